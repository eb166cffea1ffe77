package iso7816

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// ENGINE & PROTOCOL LOGIC:
// The Engine performs one logical "send command, get final response" exchange over a
// Transmitter and resolves the T=0 behaviours that leak into the application layer:
//
// 1. "61 XX" (Response Available):
//    The data of the response is kept and GET RESPONSE (Le = XX) is sent on the same CLA,
//    appending each chunk, until a response whose SW1 is not 61. The caller sees one
//    response: all chunks concatenated with the last status word.
//
// 2. "6C XX" (Wrong Length):
//    The original command is re-sent once with Le = XX. Whatever comes back is returned
//    as-is, even another 6CXX.
//
// The whole sequence runs under one lock so that no other command can reach the card
// between a 61XX and its GET RESPONSE.

// DefaultMaxChain bounds the number of GET RESPONSE commands in one exchange.
const DefaultMaxChain = 256

// Transmitter abstracts the physical card connection.
// Transmit sends one command and returns one complete response, or an error.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

// Engine serialises exchanges on one Transmitter.
type Engine struct {
	card     Transmitter
	lock     sync.Locker
	maxChain int
	log      *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMaxChain sets the GET RESPONSE bound; values below 1 keep the default.
func WithMaxChain(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.maxChain = n
		}
	}
}

// WithLogger sets the logger used for the debug APDU trace.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an Engine. If card also implements sync.Locker, that lock is
// used, so every Engine built on the same transport shares it.
func NewEngine(card Transmitter, opts ...EngineOption) *Engine {
	e := &Engine{
		card:     card,
		maxChain: DefaultMaxChain,
		log:      slog.Default(),
	}
	if l, ok := card.(sync.Locker); ok {
		e.lock = l
	} else {
		e.lock = &sync.Mutex{}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Exchange sends cmd and returns the fully resolved response.
func (e *Engine) Exchange(cmd *CommandAPDU) (*ResponseAPDU, error) {
	resp, _, err := e.ExchangeTrace(cmd)
	return resp, err
}

// ExchangeTrace is Exchange that also returns every physical transaction performed.
// On error the trace holds the transactions completed before the failure.
func (e *Engine) ExchangeTrace(cmd *CommandAPDU) (*ResponseAPDU, Trace, error) {
	e.lock.Lock()
	defer e.lock.Unlock()

	var trace Trace

	resp, err := e.send(cmd, &trace)
	if err != nil {
		return nil, trace, err
	}

	outcome := Classify(resp.Status)

	switch outcome.Kind {
	case OutcomeWrongLength:
		retry, err := e.send(cmd.WithLe(outcome.Count), &trace)
		if err != nil {
			return nil, trace, err
		}
		return retry, trace, nil

	case OutcomeMoreDataAvailable:
		chained, err := e.collect(cmd.Class.Raw, resp, &trace)
		if err != nil {
			return nil, trace, err
		}
		return chained, trace, nil
	}

	return resp, trace, nil
}

// collect drains a 61XX chain started by first.
func (e *Engine) collect(cla byte, first *ResponseAPDU, trace *Trace) (*ResponseAPDU, error) {
	data := append([]byte(nil), first.Data...)
	last := first

	for i := 0; last.Status.IsMoreDataAvailable(); i++ {
		if i == e.maxChain {
			return nil, fmt.Errorf("%w: still %04X after %d GET RESPONSE commands",
				ErrProtocolViolation, uint16(last.Status), e.maxChain)
		}

		next, err := e.send(GetResponse(cla, last.Status.SW2()), trace)
		if err != nil {
			return nil, err
		}
		data = append(data, next.Data...)
		last = next
	}

	return &ResponseAPDU{Data: data, Status: last.Status}, nil
}

// send performs one physical transaction and records it.
func (e *Engine) send(cmd *CommandAPDU, trace *Trace) (*ResponseAPDU, error) {
	rawCmd, err := cmd.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encoding error: %w", err)
	}

	e.log.Debug("apdu >", "data", hex.EncodeToString(rawCmd))

	rawResp, err := e.card.Transmit(rawCmd)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	e.log.Debug("apdu <", "data", hex.EncodeToString(rawResp))

	resp, err := ParseResponseAPDU(rawResp)
	if err != nil {
		return nil, err
	}

	*trace = append(*trace, Transaction{Command: cmd, Response: resp})
	return resp, nil
}
