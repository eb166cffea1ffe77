package iso7816

// MANAGE CHANNEL (INS '70') and GET RESPONSE (INS 'C0') builders.
//
// MANAGE CHANNEL open is always issued on the basic channel with P1=00 P2=00 and Le=01:
// the card assigns the channel and returns its number as the single data byte.
// MANAGE CHANNEL close is issued on the channel being closed, with P1=80 and P2
// carrying the channel number.

const (
	manageChannelOpen  byte = 0x00
	manageChannelClose byte = 0x80
)

// ManageChannelOpen builds 00 70 00 00 01.
func ManageChannelOpen() *CommandAPDU {
	return NewCommandAPDU(mustClass(0x00), mustInstruction(INS_MANAGE_CHANNEL), manageChannelOpen, 0x00, nil, 1)
}

// ManageChannelClose builds the close command for a logical channel (no Le).
func ManageChannelClose(channel int) (*CommandAPDU, error) {
	cla, err := EncodeClassByte(0x00, channel)
	if err != nil {
		return nil, err
	}
	return NewCommandAPDU(mustClass(cla), mustInstruction(INS_MANAGE_CHANNEL), manageChannelClose, byte(channel), nil, 0), nil
}

// GetResponse builds a GET RESPONSE reusing the CLA byte of the command that
// triggered the 61XX, so the request stays on the same logical channel.
func GetResponse(cla byte, le byte) *CommandAPDU {
	return NewCommandAPDU(mustClass(cla), mustInstruction(INS_GET_RESPONSE), 0x00, 0x00, nil, NeFromLe(le))
}

// mustClass decodes CLA bytes that are produced internally. The only invalid
// value is 0xFF, which is kept as a proprietary class rather than rejected.
func mustClass(cla byte) Class {
	c, err := NewClass(cla)
	if err != nil {
		return Class{Raw: cla, IsProprietary: true}
	}
	return c
}

// mustInstruction wraps instruction constants that are known to be valid.
func mustInstruction(ins InsCode) Instruction {
	i, err := NewInstruction(ins)
	if err != nil {
		panic(err)
	}
	return i
}
