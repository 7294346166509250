package id

import (
	"time"

	"github.com/sony/sonyflake"
)

// tokens of restarted stores must keep growing, so the epoch is fixed
var epoch = time.Date(2020, time.July, 1, 0, 0, 0, 0, time.UTC)

type snowflakeGenerator struct {
	gen *sonyflake.Sonyflake
}

// NewSnowflakeGenerator returns a token generator implemention by
// snowflake, machineID is usually the low 16 bits of the store id
func NewSnowflakeGenerator(machineID uint16) Generator {
	return &snowflakeGenerator{
		gen: sonyflake.NewSonyflake(sonyflake.Settings{
			StartTime: epoch,
			MachineID: func() (uint16, error) {
				return machineID, nil
			},
		}),
	}
}

func (g *snowflakeGenerator) Gen() (uint64, error) {
	return g.gen.NextID()
}
