// Package cardtest provides a scripted secure element for tests.
//
// A Card replays a list of steps, one per Transmit call, records every command it
// receives and counts overlapping Transmit calls so tests can prove that exchanges
// were serialised.
package cardtest

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gregLibert/se-terminal/pkg/tlv"
)

// ErrScriptExhausted is returned when Transmit is called after the last step.
var ErrScriptExhausted = errors.New("cardtest: script exhausted")

// Step is the card's reaction to one command.
type Step struct {
	// Expect, when set, is the exact command the step must receive.
	Expect []byte
	// Response is returned when Err is nil.
	Response []byte
	Err      error
}

// Respond is a step answering with the given hex (separators allowed).
func Respond(hexResp string) Step {
	return Step{Response: tlv.Hex(hexResp)}
}

// Expect is a step checking the command before answering.
func Expect(hexCmd, hexResp string) Step {
	return Step{Expect: tlv.Hex(hexCmd), Response: tlv.Hex(hexResp)}
}

// Fail is a step where the link breaks.
func Fail(err error) Step {
	return Step{Err: err}
}

// Handler computes a response from a command; it replaces the script when set.
type Handler func(cmd []byte) ([]byte, error)

// Card is a scripted transport. The zero value is unavailable; use New.
type Card struct {
	mu        sync.Mutex
	steps     []Step
	next      int
	sent      [][]byte
	mismatch  []string
	available bool

	// Handler, when non-nil, answers every command instead of the script.
	Handler Handler
	// Delay is slept inside every Transmit, widening the window for overlaps.
	Delay time.Duration
	// ATRBytes is returned by ATR.
	ATRBytes []byte

	inFlight int32
	overlaps int32
}

// New creates an available Card replaying steps.
func New(steps ...Step) *Card {
	return &Card{steps: steps, available: true}
}

// Transmit implements the transport contract.
func (c *Card) Transmit(cmd []byte) ([]byte, error) {
	if atomic.AddInt32(&c.inFlight, 1) > 1 {
		atomic.AddInt32(&c.overlaps, 1)
	}
	defer atomic.AddInt32(&c.inFlight, -1)

	if c.Delay > 0 {
		time.Sleep(c.Delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = append(c.sent, append([]byte(nil), cmd...))

	if c.Handler != nil {
		return c.Handler(cmd)
	}

	if c.next >= len(c.steps) {
		return nil, ErrScriptExhausted
	}
	step := c.steps[c.next]
	c.next++

	if step.Expect != nil && hex.EncodeToString(step.Expect) != hex.EncodeToString(cmd) {
		c.mismatch = append(c.mismatch, fmt.Sprintf("step %d: got %X, want %X", c.next, cmd, step.Expect))
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return append([]byte(nil), step.Response...), nil
}

// IsAvailable implements the transport contract.
func (c *Card) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.available
}

// SetAvailable toggles the availability signal.
func (c *Card) SetAvailable(v bool) {
	c.mu.Lock()
	c.available = v
	c.mu.Unlock()
}

// ATR returns ATRBytes.
func (c *Card) ATR() []byte {
	return c.ATRBytes
}

// Sent returns a copy of every command received, in order.
func (c *Card) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// SentHex returns Sent as upper-case hex strings.
func (c *Card) SentHex() []string {
	var out []string
	for _, cmd := range c.Sent() {
		out = append(out, strings.ToUpper(hex.EncodeToString(cmd)))
	}
	return out
}

// Remaining reports how many scripted steps were not consumed.
func (c *Card) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.steps) - c.next
}

// Mismatches lists Expect steps that received another command.
func (c *Card) Mismatches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.mismatch...)
}

// Overlaps counts Transmit calls that started while another was still running.
func (c *Card) Overlaps() int {
	return int(atomic.LoadInt32(&c.overlaps))
}
