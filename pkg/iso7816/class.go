package iso7816

import (
	"fmt"

	"github.com/gregLibert/se-terminal/pkg/bits"
)

// Class Byte (CLA) Structure according to ISO/IEC 7816-4.
//
// The CLA byte conveys the command class, covering secure messaging (SM), command chaining,
// and logical channel selection.
//
// Structure:
// Bit 8: Proprietary (1) or Interindustry (0).
// Bit 7: Type of Interindustry (0=First, 1=Further).
// Bit 5: Command Chaining (0=Last/Only, 1=More follow).
//
// 1. First Interindustry Class (00xx xxxx):
//    - Bits 4-3: Secure Messaging (2 bits, 4 states).
//    - Bits 2-1: Logical Channel number (0-3).
//
// 2. Further Interindustry Class (01xx xxxx):
//    - Bit 6: Secure Messaging (1 bit: No SM or SM active).
//    - Bits 4-1: Logical Channel number minus 4 (encoding 0-15 for channels 4-19).

// Logical channel range.
const (
	BasicChannel = 0
	MaxChannel   = 19

	// firstFurtherChannel is the first channel using the further interindustry encoding.
	firstFurtherChannel = 4
)

// EncodeClassByte places a logical channel number into a base CLA byte.
//
// Channels 0-3 replace bits 2-1 of base. Channels 4-19 replace bits 4-1 with
// (channel - 4) and set bit 7. The remaining bits of base are kept as-is.
func EncodeClassByte(base byte, channel int) (byte, error) {
	if channel < BasicChannel || channel > MaxChannel {
		return 0, fmt.Errorf("%w: %d (allowed 0-%d)", ErrInvalidChannelNumber, channel, MaxChannel)
	}

	if channel < firstFurtherChannel {
		return bits.ClearRange(base, 2, 1) | byte(channel), nil
	}

	cla := bits.ClearRange(base, 4, 1)
	cla = bits.Set(cla, 7)
	return cla | byte(channel-firstFurtherChannel), nil
}

// DecodeChannelNumber extracts the logical channel number from a CLA byte.
// It is the inverse of EncodeClassByte for every channel in [0, 19].
func DecodeChannelNumber(cla byte) int {
	if !bits.IsSet(cla, 7) {
		return int(bits.GetRange(cla, 2, 1))
	}
	return int(bits.GetRange(cla, 4, 1)) + firstFurtherChannel
}

// SecureMessaging defines the security level applied to the APDU.
type SecureMessaging int

const (
	// SMNone indicates no secure messaging or no indication given.
	SMNone SecureMessaging = 0
	// SMProprietary indicates a proprietary secure messaging format (First Interindustry only).
	SMProprietary SecureMessaging = 1
	// SMHeaderNoProc indicates SM according to ISO, where the header is not processed.
	SMHeaderNoProc SecureMessaging = 2
	// SMHeaderAuth indicates SM according to ISO, where the header is authenticated (First Interindustry only).
	SMHeaderAuth SecureMessaging = 3
)

// Class is a CLA byte together with its decoded fields.
// Raw is always the byte sent on the wire.
type Class struct {
	Raw             byte
	IsProprietary   bool
	IsChained       bool
	SecureMessaging SecureMessaging
	Channel         int // Logical channel number (0-19)
}

// NewClass decodes a raw CLA byte.
func NewClass(cla byte) (Class, error) {
	if cla == 0xFF {
		return Class{}, fmt.Errorf("%w: CLA 0xFF is reserved", ErrInvalidCommand)
	}

	c := Class{Raw: cla, Channel: DecodeChannelNumber(cla)}

	if bits.IsSet(cla, 8) {
		c.IsProprietary = true
		return c, nil
	}

	c.IsChained = bits.IsSet(cla, 5)

	if !bits.IsSet(cla, 7) {
		c.SecureMessaging = SecureMessaging(bits.GetRange(cla, 4, 3))
	} else if bits.IsSet(cla, 6) {
		c.SecureMessaging = SMHeaderNoProc
	}

	return c, nil
}

// NewInterindustryClass builds an interindustry class for the given channel,
// picking First or Further encoding from the channel number.
func NewInterindustryClass(isChained bool, sm SecureMessaging, channel int) (Class, error) {
	if channel >= firstFurtherChannel && (sm == SMProprietary || sm == SMHeaderAuth) {
		return Class{}, fmt.Errorf("SM indicator %d not supported for further interindustry range (ch 4-19)", sm)
	}

	var base byte
	if isChained {
		base = bits.Set(base, 5)
	}
	switch {
	case channel < firstFurtherChannel:
		base |= byte(sm) << 2
	case sm != SMNone:
		base = bits.Set(base, 6)
	}

	raw, err := EncodeClassByte(base, channel)
	if err != nil {
		return Class{}, err
	}
	return NewClass(raw)
}

// OnChannel returns a copy of the class moved to another logical channel.
// Proprietary classes use the same channel bits, which is how GlobalPlatform
// (CLA 0x80) commands address a channel.
func (c Class) OnChannel(channel int) (Class, error) {
	base := c.Raw
	if bits.IsSet(base, 7) && channel < firstFurtherChannel {
		base = bits.ClearRange(bits.Clear(base, 7), 4, 1)
	}
	raw, err := EncodeClassByte(base, channel)
	if err != nil {
		return Class{}, err
	}
	return NewClass(raw)
}

// Verbose returns a human-readable description of the CLA byte configuration.
func (c Class) Verbose() string {
	if c.IsProprietary {
		return fmt.Sprintf("Class: Proprietary (0x%02X)", c.Raw)
	}

	rangeName := "First Interindustry (Ch 0-3)"
	if c.Channel >= firstFurtherChannel {
		rangeName = "Further Interindustry (Ch 4-19)"
	}

	smDesc := "Unknown"
	switch c.SecureMessaging {
	case SMNone:
		smDesc = "None"
	case SMProprietary:
		smDesc = "Proprietary"
	case SMHeaderNoProc:
		smDesc = "ISO (Header not processed)"
	case SMHeaderAuth:
		smDesc = "ISO (Header authenticated)"
	}

	chaining := "Last or only command"
	if c.IsChained {
		chaining = "More commands follow (Chaining)"
	}

	return fmt.Sprintf(
		"Range: %s\nChaining: %s\nSecure Messaging: %s\nLogical Channel: %d",
		rangeName, chaining, smDesc, c.Channel,
	)
}
