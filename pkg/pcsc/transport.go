// Package pcsc connects the terminal to a secure element behind a PC/SC reader.
package pcsc

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ebfe/scard"
	"github.com/gregLibert/se-terminal/pkg/iso7816"
)

// card is the part of *scard.Card the transport uses.
type card interface {
	Transmit(cmd []byte) ([]byte, error)
	Status() (*scard.CardStatus, error)
	Disconnect(d scard.Disposition) error
}

// Transport is a PC/SC connection to one card.
//
// It implements sync.Locker: the engine holds that lock for a whole chained exchange,
// so every manager built on the same Transport is serialised.
type Transport struct {
	reader string
	ctx    *scard.Context
	log    *slog.Logger

	exchange sync.Mutex // held across a chained exchange
	io       sync.Mutex // guards the card handle

	card card
}

// ListReaders returns the readers known to the PC/SC service.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: establishing context: %v", iso7816.ErrTransportUnavailable, err)
	}
	defer func() {
		if relErr := ctx.Release(); relErr != nil {
			slog.Debug("failed to release context", "error", relErr)
		}
	}()

	return ctx.ListReaders()
}

// Connect opens the named reader, or the first one when readerName is empty.
func Connect(readerName string, log *slog.Logger) (*Transport, error) {
	if log == nil {
		log = slog.Default()
	}

	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, fmt.Errorf("%w: establishing context: %v", iso7816.ErrTransportUnavailable, err)
	}

	release := func() {
		if relErr := ctx.Release(); relErr != nil {
			log.Warn("failed to release context during error handling", "error", relErr)
		}
	}

	reader, err := pickReader(ctx, readerName)
	if err != nil {
		release()
		return nil, err
	}

	// Force T=0 or T=1 to avoid "Parameter Incorrect" errors (Error 57)
	c, err := ctx.Connect(reader, scard.ShareShared, scard.ProtocolT0|scard.ProtocolT1)
	if err != nil {
		release()
		return nil, fmt.Errorf("%w: connecting to %q: %v", iso7816.ErrTransportUnavailable, reader, err)
	}

	log.Debug("connected to card", "reader", reader)

	t := newTransport(reader, c, log)
	t.ctx = ctx
	return t, nil
}

func pickReader(ctx *scard.Context, name string) (string, error) {
	readers, err := ctx.ListReaders()
	if err != nil {
		return "", fmt.Errorf("%w: listing readers: %v", iso7816.ErrTransportUnavailable, err)
	}
	if len(readers) == 0 {
		return "", fmt.Errorf("%w: no smart card reader found", iso7816.ErrTransportUnavailable)
	}
	if name == "" {
		return readers[0], nil
	}
	for _, r := range readers {
		if r == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: reader %q not found (have %q)", iso7816.ErrTransportUnavailable, name, readers)
}

func newTransport(reader string, c card, log *slog.Logger) *Transport {
	return &Transport{reader: reader, card: c, log: log}
}

// Reader is the name of the connected reader.
func (t *Transport) Reader() string {
	return t.reader
}

// Transmit sends one APDU to the card.
func (t *Transport) Transmit(cmd []byte) ([]byte, error) {
	t.io.Lock()
	defer t.io.Unlock()

	if t.card == nil {
		return nil, fmt.Errorf("%s: %w", t.reader, iso7816.ErrTransportUnavailable)
	}

	resp, err := t.card.Transmit(cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", t.reader, err)
	}
	return resp, nil
}

// IsAvailable reports whether the card still answers a status query.
func (t *Transport) IsAvailable() bool {
	_, err := t.status()
	return err == nil
}

// ATR returns the answer-to-reset, or nil if the card cannot be queried.
func (t *Transport) ATR() []byte {
	st, err := t.status()
	if err != nil {
		return nil
	}
	return st.Atr
}

func (t *Transport) status() (*scard.CardStatus, error) {
	t.io.Lock()
	defer t.io.Unlock()

	if t.card == nil {
		return nil, iso7816.ErrTransportUnavailable
	}
	return t.card.Status()
}

// Lock takes the exchange lock.
func (t *Transport) Lock() {
	t.exchange.Lock()
}

// Unlock releases the exchange lock.
func (t *Transport) Unlock() {
	t.exchange.Unlock()
}

// Close disconnects the card, leaving it powered, and releases the context.
func (t *Transport) Close() error {
	t.io.Lock()
	defer t.io.Unlock()

	var errs []error
	if t.card != nil {
		if err := t.card.Disconnect(scard.LeaveCard); err != nil {
			errs = append(errs, fmt.Errorf("disconnect card: %w", err))
		}
		t.card = nil
	}
	if t.ctx != nil {
		if err := t.ctx.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release context: %w", err))
		}
		t.ctx = nil
	}
	return errors.Join(errs...)
}
