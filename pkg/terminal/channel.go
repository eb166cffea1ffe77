package terminal

import (
	"fmt"

	"github.com/gregLibert/se-terminal/pkg/iso7816"
)

// ChannelState is the lifecycle of a logical channel: Closed -> Open -> Selected,
// and back to Closed on close or rollback.
type ChannelState int

const (
	StateClosed ChannelState = iota
	StateOpen
	StateSelected
)

func (s ChannelState) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateSelected:
		return "Selected"
	default:
		return "Closed"
	}
}

// LogicalChannel is one entry of the channel table.
type LogicalChannel struct {
	Number int
	State  ChannelState

	// Set once an application was selected on the channel.
	AID            []byte
	P2             byte
	SelectResponse []byte // data field only
	SelectStatus   iso7816.StatusWord
}

// FCI decodes SelectResponse with the P2 it was requested with.
// It returns nil, nil when the channel carries no selection data.
func (c *LogicalChannel) FCI() (*iso7816.FileControlInfo, error) {
	return iso7816.ParseSelectData(c.SelectResponse, c.P2)
}

func (c *LogicalChannel) String() string {
	if c.State == StateSelected {
		return fmt.Sprintf("channel %d (%s, AID %X)", c.Number, c.State, c.AID)
	}
	return fmt.Sprintf("channel %d (%s)", c.Number, c.State)
}

func (c *LogicalChannel) clone() *LogicalChannel {
	out := *c
	out.AID = append([]byte(nil), c.AID...)
	out.SelectResponse = append([]byte(nil), c.SelectResponse...)
	return &out
}
