package iso7816

import "fmt"

// OutcomeKind is the protocol-level meaning of a status word.
type OutcomeKind int

const (
	OutcomeFailure OutcomeKind = iota
	OutcomeSuccess
	OutcomeWarning
	OutcomeNoFreeChannel
	OutcomeChannelsNotSupported
	OutcomeMoreDataAvailable
	OutcomeWrongLength
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "Success"
	case OutcomeWarning:
		return "Warning"
	case OutcomeNoFreeChannel:
		return "NoFreeChannel"
	case OutcomeChannelsNotSupported:
		return "ChannelsNotSupported"
	case OutcomeMoreDataAvailable:
		return "MoreDataAvailable"
	case OutcomeWrongLength:
		return "WrongLength"
	default:
		return "Failure"
	}
}

// StatusOutcome is the classification of one status word. It is derived on demand and never stored.
type StatusOutcome struct {
	Kind   OutcomeKind
	Status StatusWord
	// Count is SW2 for MoreDataAvailable (bytes pending) and WrongLength (correct Le).
	Count byte
}

func (o StatusOutcome) String() string {
	switch o.Kind {
	case OutcomeMoreDataAvailable, OutcomeWrongLength:
		return fmt.Sprintf("%s(%d)", o.Kind, o.Count)
	case OutcomeFailure:
		return fmt.Sprintf("Failure(%04X)", uint16(o.Status))
	default:
		return o.Kind.String()
	}
}

// IsSelectAccepted reports Success, or Warning when warnings are accepted.
func (o StatusOutcome) IsSelectAccepted(acceptWarnings bool) bool {
	return o.Kind == OutcomeSuccess || (acceptWarnings && o.Kind == OutcomeWarning)
}

// Classify maps a status word to its outcome.
//
//	9000       Success
//	62XX, 63XX Warning
//	6A81       NoFreeChannel
//	6881       ChannelsNotSupported
//	61XX       MoreDataAvailable(SW2)
//	6CXX       WrongLength(SW2)
//	other      Failure
func Classify(sw StatusWord) StatusOutcome {
	out := StatusOutcome{Kind: OutcomeFailure, Status: sw}

	switch {
	case sw == SW_NO_ERROR:
		out.Kind = OutcomeSuccess
	case sw == SW_ERR_FUNC_NOT_SUPPORTED:
		out.Kind = OutcomeNoFreeChannel
	case sw == SW_ERR_LOGICAL_CHANNEL_NOT_SUPP:
		out.Kind = OutcomeChannelsNotSupported
	case sw.IsWarning():
		out.Kind = OutcomeWarning
	case sw.SW1() == 0x61:
		out.Kind = OutcomeMoreDataAvailable
		out.Count = sw.SW2()
	case sw.SW1() == 0x6C:
		out.Kind = OutcomeWrongLength
		out.Count = sw.SW2()
	}

	return out
}

// ClassifyBytes parses a raw response and classifies its trailer.
func ClassifyBytes(raw []byte) (StatusOutcome, error) {
	resp, err := ParseResponseAPDU(raw)
	if err != nil {
		return StatusOutcome{}, err
	}
	return Classify(resp.Status), nil
}
