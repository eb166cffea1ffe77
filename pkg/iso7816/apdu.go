package iso7816

import (
	"bytes"
	"fmt"
)

// APDU (Application Protocol Data Unit) structures and encodings according to ISO/IEC 7816-3 and 7816-4.
//
// COMMAND APDU (C-APDU):
// A command consists of a mandatory Header (4 bytes) and an optional Body.
//
// 1. Header:
//   - CLA (Class): Security, Chaining, Logical Channel.
//   - INS (Instruction): The specific command to execute.
//   - P1, P2 (Parameters): Command modifiers.
//
// 2. Body:
//   - Lc (Length Command): Number of bytes in the data field.
//   - Data: The command payload.
//   - Le (Length Expected): Maximum number of bytes expected in the response.
//
// ENCODING CASES (ISO 7816-3), short length only:
// - Case 1: CLA INS P1 P2
// - Case 2: CLA INS P1 P2 Le
// - Case 3: CLA INS P1 P2 Lc Data
// - Case 4: CLA INS P1 P2 Lc Data Le
//
// Lc and Le are single bytes. Le=0x00 encodes 256. Extended length is not supported.
//
// RESPONSE APDU (R-APDU):
// An optional data field followed by the mandatory SW1 SW2 trailer.

// Short length limits.
const (
	// MaxShortLc is the maximum data length (Nc) encodable in one byte.
	MaxShortLc = 255

	// MaxShortLe is the maximum expected response length; it is encoded as 0x00.
	MaxShortLe = 256
)

// NeFromLe converts a single Le byte into the expected length it denotes.
func NeFromLe(le byte) int {
	if le == 0x00 {
		return MaxShortLe
	}
	return int(le)
}

// CommandAPDU represents a command sent to the card.
type CommandAPDU struct {
	Class       Class
	Instruction Instruction
	P1, P2      byte
	Data        []byte
	Ne          int // Expected response length (0 means Le absent, 256 is sent as 0x00)
}

// NewCommandAPDU creates a basic command.
func NewCommandAPDU(cla Class, ins Instruction, p1, p2 byte, data []byte, ne int) *CommandAPDU {
	return &CommandAPDU{
		Class:       cla,
		Instruction: ins,
		P1:          p1,
		P2:          p2,
		Data:        data,
		Ne:          ne,
	}
}

// ParseCommandAPDU decodes a short-form command APDU.
func ParseCommandAPDU(raw []byte) (*CommandAPDU, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: header needs 4 bytes, got %d", ErrInvalidCommand, len(raw))
	}

	cla, err := NewClass(raw[0])
	if err != nil {
		return nil, err
	}
	ins, err := NewInstruction(InsCode(raw[1]))
	if err != nil {
		return nil, err
	}

	cmd := NewCommandAPDU(cla, ins, raw[2], raw[3], nil, 0)
	body := raw[4:]

	switch {
	case len(body) == 0:
		return cmd, nil
	case len(body) == 1:
		cmd.Ne = NeFromLe(body[0])
		return cmd, nil
	}

	lc := int(body[0])
	if lc == 0 {
		return nil, fmt.Errorf("%w: extended length is not supported", ErrInvalidCommand)
	}

	switch len(body) {
	case 1 + lc:
		cmd.Data = append([]byte(nil), body[1:]...)
	case 2 + lc:
		cmd.Data = append([]byte(nil), body[1:1+lc]...)
		cmd.Ne = NeFromLe(body[1+lc])
	default:
		return nil, fmt.Errorf("%w: Lc=%d does not match body length %d", ErrInvalidCommand, lc, len(body))
	}

	return cmd, nil
}

// Bytes encodes the CommandAPDU in short form.
func (c *CommandAPDU) Bytes() ([]byte, error) {
	nc := len(c.Data)
	if nc > MaxShortLc {
		return nil, fmt.Errorf("%w: data length %d exceeds %d", ErrInvalidCommand, nc, MaxShortLc)
	}
	if c.Ne < 0 || c.Ne > MaxShortLe {
		return nil, fmt.Errorf("%w: expected length %d out of range", ErrInvalidCommand, c.Ne)
	}

	buf := new(bytes.Buffer)
	buf.Grow(4 + 1 + nc + 1)

	buf.WriteByte(c.Class.Raw)
	buf.WriteByte(byte(c.Instruction.Raw))
	buf.WriteByte(c.P1)
	buf.WriteByte(c.P2)

	if nc > 0 {
		buf.WriteByte(byte(nc))
		buf.Write(c.Data)
	}

	if c.Ne > 0 {
		// 256 wraps to 0x00
		buf.WriteByte(byte(c.Ne))
	}

	return buf.Bytes(), nil
}

// WithLe returns a copy of the command with its Le byte replaced; every other field is unchanged.
func (c *CommandAPDU) WithLe(le byte) *CommandAPDU {
	clone := *c
	clone.Ne = NeFromLe(le)
	return &clone
}

// String returns a readable representation of the command meta-data.
func (c *CommandAPDU) String() string {
	return fmt.Sprintf("CLA: 0x%02X | %s | P1: %02X, P2: %02X | Lc: %d | Le: %d",
		c.Class.Raw, c.Instruction.Verbose(), c.P1, c.P2, len(c.Data), c.Ne)
}

// ResponseAPDU represents the reply from the card (R-APDU).
type ResponseAPDU struct {
	Data   []byte
	Status StatusWord
}

// ParseResponseAPDU parses raw bytes received from the card into a ResponseAPDU.
// The input must contain at least 2 bytes (SW1, SW2).
func ParseResponseAPDU(raw []byte) (*ResponseAPDU, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("%w: response too short: length %d", ErrMalformedResponse, len(raw))
	}

	indexSW1 := len(raw) - 2

	return &ResponseAPDU{
		Data:   raw[:indexSW1],
		Status: NewStatusWord(raw[indexSW1], raw[indexSW1+1]),
	}, nil
}

// Bytes returns the wire form: data followed by SW1 SW2.
func (r *ResponseAPDU) Bytes() []byte {
	out := make([]byte, 0, len(r.Data)+2)
	out = append(out, r.Data...)
	return append(out, r.Status.SW1(), r.Status.SW2())
}

// String returns a readable representation of the response.
func (r *ResponseAPDU) String() string {
	return fmt.Sprintf("Data (%d bytes) | Status: %s", len(r.Data), r.Status.Verbose())
}
