package meta

// TransformStatus transform status
type TransformStatus byte

const (
	// TransformStatusRunning the transform is processing source documents
	TransformStatusRunning = TransformStatus(0)
	// TransformStatusGated the transform is held by read-delay gating
	TransformStatusGated = TransformStatus(1)
	// TransformStatusHalted the transform stopped on a document or
	// lambda error and waits for operator correction
	TransformStatusHalted = TransformStatus(2)
)

// Name returns the name of the status
func (s TransformStatus) Name() string {
	switch s {
	case TransformStatusRunning:
		return "Running"
	case TransformStatusGated:
		return "Gated"
	case TransformStatusHalted:
		return "Halted"
	}

	return ""
}

// ManualAction is an operator action applied to a halted transform
type ManualAction byte

const (
	// ManualResume retry from the failing document
	ManualResume = ManualAction(0)
	// ManualSkip advance past the failing document
	ManualSkip = ManualAction(1)
)

// Name returns the name of the action
func (m ManualAction) Name() string {
	switch m {
	case ManualResume:
		return "Resume"
	case ManualSkip:
		return "Skip"
	}

	return ""
}

// Manual is a pending operator action
type Manual struct {
	Derivation string       `json:"derivation"`
	Transform  string       `json:"transform"`
	Action     ManualAction `json:"action"`
}

// Hash is the optional secondary hash applied to extracted shuffle keys
type Hash byte

const (
	// HashNone route on the key's own hash
	HashNone = Hash(0)
	// HashMD5 re-hash the packed key with MD5 before ranking
	HashMD5 = Hash(1)
)

// Name returns the name of the hash function
func (h Hash) Name() string {
	switch h {
	case HashNone:
		return "None"
	case HashMD5:
		return "MD5"
	}

	return ""
}
