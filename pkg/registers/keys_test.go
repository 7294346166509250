package registers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCheckpointKey(t *testing.T) {
	data := getCheckpointKey(1)
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x01}, data, "check checkpoint key")
}

func TestGetRegisterKey(t *testing.T) {
	data := getRegisterKey(1, []byte("k"))
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01, 0x02, 'k'}, data, "check register key")
}
