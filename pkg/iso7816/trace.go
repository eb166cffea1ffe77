package iso7816

// TRANSACTION:
// One Command APDU sent by the terminal followed by one Response APDU from the card.
//
// TRACE:
// The chronological list of Transactions the Engine performed to resolve one logical
// exchange. A single Exchange can span several physical transactions:
// 1. "61 XX": the card holds XX more bytes, fetched with GET RESPONSE until SW1 != 61.
// 2. "6C XX": the command is re-sent once with Le = XX.

// Transaction represents a completed Command-Response pair.
type Transaction struct {
	Command  *CommandAPDU
	Response *ResponseAPDU
}

// IsSuccess checks if the transaction ended with a successful status.
// It returns false if the response is missing.
func (t *Transaction) IsSuccess() bool {
	if t.Response == nil {
		return false
	}
	return t.Response.Status.IsSuccess()
}

// Trace is a sequence of transactions (Command-Response pairs).
type Trace []Transaction

// Last returns the final transaction of the trace.
// Returns nil if the trace is empty.
func (t Trace) Last() *Transaction {
	if len(t) == 0 {
		return nil
	}
	return &t[len(t)-1]
}

// IsSuccess checks if the FINAL transaction in the trace was successful.
func (t Trace) IsSuccess() bool {
	last := t.Last()
	if last == nil {
		return false
	}
	return last.IsSuccess()
}

// Count returns how many transactions used the given instruction.
func (t Trace) Count(ins InsCode) int {
	n := 0
	for _, tx := range t {
		if tx.Command != nil && tx.Command.Instruction.Raw == ins {
			n++
		}
	}
	return n
}
