package iso7816

import (
	"fmt"
)

// SELECT COMMAND LOGIC (ISO 7816-4):
// The SELECT command (INS 'A4') opens a file (MF, DF, or EF) or an application.
//
// P1 (Selection Method):
// Indicates how the file is targeted (by ID, by Name/AID, by Path, etc.).
//
// P2 (Selection Control):
// Controls the response content and the file occurrence.
// - Bits 4-3: Response Type (FCI, FCP, FMD, or No Data).
// - Bits 2-1: Occurrence (First, Last, Next, Previous).

// SelectionMethod defines how the file is targeted (P1).
type SelectionMethod byte

const (
	SelectByFileID          SelectionMethod = 0x00
	SelectChildDF           SelectionMethod = 0x01
	SelectEFUnderCurrentDF  SelectionMethod = 0x02
	SelectParentDF          SelectionMethod = 0x03
	SelectByDFName          SelectionMethod = 0x04 // Select by AID
	SelectPathFromMF        SelectionMethod = 0x08
	SelectPathFromCurrentDF SelectionMethod = 0x09
)

func (s SelectionMethod) String() string {
	switch s {
	case SelectByFileID:
		return "Select by File ID"
	case SelectChildDF:
		return "Select Child DF"
	case SelectEFUnderCurrentDF:
		return "Select EF under current DF"
	case SelectParentDF:
		return "Select Parent DF"
	case SelectByDFName:
		return "Select by DF Name (AID)"
	case SelectPathFromMF:
		return "Select Path from MF"
	case SelectPathFromCurrentDF:
		return "Select Path from Current DF"
	default:
		return fmt.Sprintf("Unknown Method (0x%02X)", byte(s))
	}
}

// FileOccurrence defines which instance of the file to select (Bits 1-2 of P2).
type FileOccurrence byte

const (
	FirstOrOnlyOccurrence FileOccurrence = 0b0000_00_00
	LastOccurrence        FileOccurrence = 0b0000_00_01
	NextOccurrence        FileOccurrence = 0b0000_00_10
	PreviousOccurrence    FileOccurrence = 0b0000_00_11
)

// SelectionControl defines what data to return (Bits 3-4 of P2).
type SelectionControl byte

const (
	ReturnFCI    SelectionControl = 0b0000_00_00
	ReturnFCP    SelectionControl = 0b0000_01_00
	ReturnFMD    SelectionControl = 0b0000_10_00
	ReturnNoData SelectionControl = 0b0000_11_00
)

func (s SelectionControl) String() string {
	switch s {
	case ReturnFCI:
		return "Return FCI"
	case ReturnFCP:
		return "Return FCP"
	case ReturnFMD:
		return "Return FMD"
	case ReturnNoData:
		return "No Response Data"
	default:
		return "Unknown Control"
	}
}

// SelectionP2 combines occurrence and control into a SELECT P2 byte.
func SelectionP2(occurrence FileOccurrence, ctrl SelectionControl) byte {
	return byte(ctrl) | byte(occurrence)
}

// SelectByAIDOnChannel builds the application selection sent right after a
// logical channel is opened: CLA for the channel, INS A4, P1 04, the caller's P2,
// the AID as data and Le=00.
func SelectByAIDOnChannel(channel int, aid []byte, p2 byte) (*CommandAPDU, error) {
	cla, err := EncodeClassByte(0x00, channel)
	if err != nil {
		return nil, err
	}
	if len(aid) > MaxShortLc {
		return nil, fmt.Errorf("%w: AID length %d", ErrInvalidCommand, len(aid))
	}

	return NewCommandAPDU(mustClass(cla), mustInstruction(INS_SELECT), byte(SelectByDFName), p2, aid, MaxShortLe), nil
}

// SelectIssuerSecurityDomain builds 00 A4 04 00 00: SELECT by DF name with an
// empty name on the basic channel, which GlobalPlatform cards answer with the
// issuer security domain.
func SelectIssuerSecurityDomain() *CommandAPDU {
	return NewCommandAPDU(mustClass(0x00), mustInstruction(INS_SELECT), byte(SelectByDFName), 0x00, nil, MaxShortLe)
}
