package iso7816

import (
	"fmt"
	"strings"

	"github.com/gregLibert/se-terminal/pkg/bits"
	"github.com/gregLibert/se-terminal/pkg/tlv"
	"github.com/moov-io/bertlv"
)

// FILE CONTROL INFORMATION returned by SELECT (ISO/IEC 7816-4).
//
// What the card returns is driven by bits 4-3 of the SELECT P2:
// - 00: FCI, an optional '6F' wrapper around '62' (FCP) and/or '64' (FMD),
//       or a flat list of tags when the card omits the templates.
// - 01: FCP, template '62' is mandatory.
// - 10: FMD, template '64' is mandatory.
// - 11: No data.
//
// Data starting with a byte >= 'C0' is proprietary and kept raw.

// FCPTemplate (File Control Parameters) - Tag '62'.
type FCPTemplate struct {
	DataSizeExcludingStruct []byte `tlv:"80" fmt:"int"`
	TotalFileSize           []byte `tlv:"81" fmt:"int"`
	FileDescriptor          []byte `tlv:"82"`
	FileIdentifier          []byte `tlv:"83"`
	DFName                  []byte `tlv:"84" fmt:"ascii"`
	ProprietaryInfoRaw      []byte `tlv:"85"`
	SecurityAttrProprietary []byte `tlv:"86"`
	ShortEFIdentifier       []byte `tlv:"88"`
	LifeCycleStatus         []byte `tlv:"8A"`
	SecurityAttrCompact     []byte `tlv:"8C"`
	ChannelSecurityAttr     []byte `tlv:"8E"`
	ProprietaryDataBER      []byte `tlv:"A5"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// FMDTemplate (File Management Data) - Tag '64'.
type FMDTemplate struct {
	ApplicationIdentifier []byte `tlv:"84" fmt:"ascii"`
	ApplicationLabel      []byte `tlv:"50" fmt:"ascii"`
	ProprietaryData53     []byte `tlv:"53"`
	ProprietaryData73     []byte `tlv:"73"`

	Unknown []bertlv.TLV `tlv:",unknown"`
}

// FileControlInfo is the decoded data field of a SELECT response.
type FileControlInfo struct {
	FCP *FCPTemplate
	FMD *FMDTemplate

	// Unknown holds tags matching neither template (flat FCI only).
	Unknown []bertlv.TLV

	ProprietaryRawData []byte
}

// GetAID returns the DF name / application identifier (tag '84'), FCP first.
func (fci *FileControlInfo) GetAID() []byte {
	if fci.FCP != nil && len(fci.FCP.DFName) > 0 {
		return fci.FCP.DFName
	}
	if fci.FMD != nil && len(fci.FMD.ApplicationIdentifier) > 0 {
		return fci.FMD.ApplicationIdentifier
	}
	return nil
}

// ApplicationLabel returns the Application Label (Tag 50) from FMD.
func (fci *FileControlInfo) ApplicationLabel() []byte {
	if fci.FMD != nil {
		return fci.FMD.ApplicationLabel
	}
	return nil
}

// Describe lists every populated field, one per line.
func (fci *FileControlInfo) Describe() string {
	var sb strings.Builder
	if fci.FCP != nil {
		tlv.WriteStructFields(&sb, "FCP", fci.FCP)
	}
	if fci.FMD != nil {
		tlv.WriteStructFields(&sb, "FMD", fci.FMD)
	}
	if len(fci.ProprietaryRawData) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(fmt.Sprintf("    - Proprietary: %X", fci.ProprietaryRawData))
	}
	return sb.String()
}

// ParseSelectData decodes a SELECT response data field according to the P2 it was
// requested with. It returns nil, nil when there is nothing to decode.
func ParseSelectData(data []byte, p2 byte) (*FileControlInfo, error) {
	ctrl := SelectionControl(bits.GetRange(p2, 4, 3) << 2)
	if len(data) == 0 || ctrl == ReturnNoData {
		return nil, nil
	}

	if data[0] >= 0xC0 {
		return &FileControlInfo{ProprietaryRawData: data}, nil
	}

	packets, err := bertlv.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("BER-TLV decode failed: %w", err)
	}

	fci := &FileControlInfo{FCP: &FCPTemplate{}, FMD: &FMDTemplate{}}

	switch ctrl {
	case ReturnFCP:
		return fci, requireTemplate(packets, "62", fci.FCP)
	case ReturnFMD:
		return fci, requireTemplate(packets, "64", fci.FMD)
	default:
		return fci, parseFCI(packets, fci)
	}
}

func parseFCI(packets []bertlv.TLV, fci *FileControlInfo) error {
	if wrapper, ok := findPacket(packets, "6F"); ok {
		packets = wrapper.TLVs
	}

	foundFCP := unmarshalTemplate(packets, "62", fci.FCP)
	foundFMD := unmarshalTemplate(packets, "64", fci.FMD)
	if foundFCP || foundFMD {
		return nil
	}

	// Flat layout: FCP tags first, whatever is left goes to FMD, then to Unknown.
	if err := tlv.UnmarshalFromPackets(packets, fci.FCP); err != nil {
		return fmt.Errorf("flat FCP unmarshal failed: %w", err)
	}
	rest := fci.FCP.Unknown
	fci.FCP.Unknown = nil

	if err := tlv.UnmarshalFromPackets(rest, fci.FMD); err != nil {
		return fmt.Errorf("flat FMD unmarshal failed: %w", err)
	}
	fci.Unknown = fci.FMD.Unknown
	fci.FMD.Unknown = nil

	return nil
}

// SecurityDomainAID extracts the AID ('6F' / '84') from the answer to a SELECT
// of the issuer security domain. It returns nil when the tag is absent.
func SecurityDomainAID(data []byte) []byte {
	aid, err := tlv.FindPath(data, "6F", "84")
	if err != nil {
		return nil
	}
	return aid
}

func requireTemplate(packets []bertlv.TLV, tag string, target interface{}) error {
	if !unmarshalTemplate(packets, tag, target) {
		return fmt.Errorf("mandatory tag '%s' not found", tag)
	}
	return nil
}

func unmarshalTemplate(packets []bertlv.TLV, tag string, target interface{}) bool {
	p, ok := findPacket(packets, tag)
	if !ok {
		return false
	}
	return tlv.UnmarshalFromPackets(p.TLVs, target) == nil
}

func findPacket(packets []bertlv.TLV, tag string) (bertlv.TLV, bool) {
	for _, p := range packets {
		if strings.EqualFold(p.Tag, tag) {
			return p, true
		}
	}
	return bertlv.TLV{}, false
}
