package util

import (
	"time"

	"github.com/fagongzi/goetty"
)

var (
	// Wheel is the shared timeout wheel, its 100ms ticks bound how
	// precisely read-delay gates release
	Wheel = goetty.NewTimeoutWheel(goetty.WithTickInterval(time.Millisecond * 100))
)
