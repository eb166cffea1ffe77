// Package terminal manages ISO/IEC 7816-4 logical channels on a secure element.
//
// A Manager owns the channel table of one transport. Every command goes through an
// iso7816.Engine, so response chaining and Le correction are resolved before the
// Manager looks at a status word.
package terminal

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gregLibert/se-terminal/pkg/iso7816"
)

// Manager opens, tracks and closes logical channels.
type Manager struct {
	transport Transport
	engine    *iso7816.Engine
	policy    Policy
	log       *slog.Logger

	engineOpts []iso7816.EngineOption

	mu       sync.Mutex
	channels map[int]*LogicalChannel
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithLogger sets the logger for the manager and its engine.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
			m.engineOpts = append(m.engineOpts, iso7816.WithLogger(l))
		}
	}
}

// WithMaxChain bounds the GET RESPONSE commands of one exchange.
func WithMaxChain(n int) Option {
	return func(m *Manager) {
		m.engineOpts = append(m.engineOpts, iso7816.WithMaxChain(n))
	}
}

// New creates a Manager for t. It fails if t is not available.
func New(t Transport, opts ...Option) (*Manager, error) {
	if t == nil || !t.IsAvailable() {
		return nil, fmt.Errorf("create terminal: %w", iso7816.ErrTransportUnavailable)
	}

	m := &Manager{
		transport: t,
		policy:    DefaultPolicy(),
		log:       slog.Default(),
		channels:  make(map[int]*LogicalChannel),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.engine = iso7816.NewEngine(t, m.engineOpts...)

	return m, nil
}

// Policy returns the policy in use.
func (m *Manager) Policy() Policy {
	return m.policy
}

// OpenLogicalChannel asks the card for a new logical channel and, when aid is not nil,
// selects that application on it with the given P2.
//
// If the selection is rejected the channel is closed again and a *SelectFailedError
// is returned.
func (m *Manager) OpenLogicalChannel(aid []byte, p2 byte) (*LogicalChannel, error) {
	if !m.transport.IsAvailable() {
		return nil, fmt.Errorf("open logical channel: %w", iso7816.ErrTransportUnavailable)
	}
	if len(aid) > iso7816.MaxShortLc {
		return nil, fmt.Errorf("%w: AID length %d", iso7816.ErrInvalidCommand, len(aid))
	}

	number, err := m.openChannel()
	if err != nil {
		return nil, err
	}

	ch := &LogicalChannel{Number: number, State: StateOpen}
	m.store(ch)
	m.log.Debug("logical channel opened", "channel", number)

	if aid == nil {
		return ch.clone(), nil
	}

	resp, err := m.selectOn(number, aid, p2)
	if err != nil {
		if closeErr := m.CloseLogicalChannel(number); closeErr != nil {
			m.log.Debug("close after failed select", "channel", number, "error", closeErr)
		}
		return nil, err
	}

	m.mu.Lock()
	ch.State = StateSelected
	ch.AID = append([]byte(nil), aid...)
	ch.P2 = p2
	ch.SelectResponse = resp.Data
	ch.SelectStatus = resp.Status
	out := ch.clone()
	m.mu.Unlock()

	m.log.Debug("application selected", "channel", number, "aid", fmt.Sprintf("%X", aid), "status", resp.Status)
	return out, nil
}

// openChannel runs MANAGE CHANNEL open and validates the assigned number.
func (m *Manager) openChannel() (int, error) {
	resp, err := m.engine.Exchange(iso7816.ManageChannelOpen())
	if err != nil {
		return 0, err
	}

	outcome := iso7816.Classify(resp.Status)
	if outcome.Kind == iso7816.OutcomeChannelsNotSupported && m.policy.SelectISDOnUnsupported {
		resp, err = m.retryAfterISD()
		if err != nil {
			return 0, err
		}
		outcome = iso7816.Classify(resp.Status)
	}

	switch outcome.Kind {
	case iso7816.OutcomeSuccess:
	case iso7816.OutcomeChannelsNotSupported:
		return 0, iso7816.ErrChannelsNotSupported
	case iso7816.OutcomeNoFreeChannel:
		return 0, iso7816.ErrNoFreeChannel
	default:
		return 0, fmt.Errorf("%w: MANAGE CHANNEL returned %s", iso7816.ErrMalformedResponse, outcome)
	}

	if len(resp.Data) != 1 {
		return 0, fmt.Errorf("%w: MANAGE CHANNEL returned %d data bytes", iso7816.ErrMalformedResponse, len(resp.Data))
	}

	number := int(resp.Data[0])
	if number == iso7816.BasicChannel || number > iso7816.MaxChannel {
		return 0, fmt.Errorf("%w: card assigned %d", iso7816.ErrInvalidChannelNumber, number)
	}
	return number, nil
}

// retryAfterISD selects the issuer security domain on the basic channel, then
// repeats MANAGE CHANNEL open once.
func (m *Manager) retryAfterISD() (*iso7816.ResponseAPDU, error) {
	m.log.Debug("logical channels refused, selecting the issuer security domain")

	resp, err := m.engine.Exchange(iso7816.SelectIssuerSecurityDomain())
	if err != nil {
		return nil, err
	}
	if resp.Status != iso7816.SW_NO_ERROR {
		return nil, fmt.Errorf("%w: ISD selection returned %04X", iso7816.ErrChannelsNotSupported, uint16(resp.Status))
	}
	if aid := iso7816.SecurityDomainAID(resp.Data); aid != nil {
		m.log.Debug("issuer security domain selected", "aid", fmt.Sprintf("%X", aid))
	}

	return m.engine.Exchange(iso7816.ManageChannelOpen())
}

// selectOn sends the SELECT by AID and applies the warning policy.
func (m *Manager) selectOn(number int, aid []byte, p2 byte) (*iso7816.ResponseAPDU, error) {
	cmd, err := iso7816.SelectByAIDOnChannel(number, aid, p2)
	if err != nil {
		return nil, &SelectFailedError{Channel: number, Cause: err}
	}

	resp, err := m.engine.Exchange(cmd)
	if err != nil {
		return nil, &SelectFailedError{Channel: number, Cause: err}
	}

	if !iso7816.Classify(resp.Status).IsSelectAccepted(m.policy.AcceptSelectWarnings) {
		return nil, &SelectFailedError{Channel: number, Status: resp.Status}
	}
	return resp, nil
}

// CloseLogicalChannel releases a channel. The basic channel is never closed and
// closing it is a no-op.
//
// The entry leaves the table even when the card could not be reached; the
// transport error is still returned.
func (m *Manager) CloseLogicalChannel(number int) error {
	if number == iso7816.BasicChannel {
		return nil
	}

	cmd, err := iso7816.ManageChannelClose(number)
	if err != nil {
		return err
	}

	defer m.remove(number)

	if !m.transport.IsAvailable() {
		return fmt.Errorf("close channel %d: %w", number, iso7816.ErrTransportUnavailable)
	}

	resp, err := m.engine.Exchange(cmd)
	if err != nil {
		return fmt.Errorf("close channel %d: %w", number, err)
	}
	if resp.Status != iso7816.SW_NO_ERROR {
		m.log.Debug("close not acknowledged", "channel", number, "status", resp.Status)
	}

	m.log.Debug("logical channel closed", "channel", number)
	return nil
}

// Transmit sends a raw command APDU and returns the resolved raw response.
// The channel is the one encoded in the command's CLA byte.
func (m *Manager) Transmit(cmd []byte) ([]byte, error) {
	apdu, err := iso7816.ParseCommandAPDU(cmd)
	if err != nil {
		return nil, err
	}

	resp, err := m.TransmitAPDU(apdu)
	if err != nil {
		return nil, err
	}
	return resp.Bytes(), nil
}

// TransmitAPDU is Transmit for decoded commands.
func (m *Manager) TransmitAPDU(cmd *iso7816.CommandAPDU) (*iso7816.ResponseAPDU, error) {
	return m.engine.Exchange(cmd)
}

// State reports the lifecycle of a channel. The basic channel is always Open.
func (m *Manager) State(number int) ChannelState {
	if number == iso7816.BasicChannel {
		return StateOpen
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if ch, ok := m.channels[number]; ok {
		return ch.State
	}
	return StateClosed
}

// IsChannelOpen reports whether number is in the channel table (or is the basic channel).
func (m *Manager) IsChannelOpen(number int) bool {
	return m.State(number) != StateClosed
}

// Channels returns a snapshot of the table ordered by channel number.
func (m *Manager) Channels() []*LogicalChannel {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*LogicalChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// IsAvailable passes through the transport availability signal.
func (m *Manager) IsAvailable() bool {
	return m.transport.IsAvailable()
}

// ATR returns the answer-to-reset, or nil when the transport does not expose it.
func (m *Manager) ATR() []byte {
	if p, ok := m.transport.(ATRProvider); ok {
		return p.ATR()
	}
	return nil
}

// SimIOExchange is the file-system access of SIM terminals. A secure element
// terminal has no such access.
func (m *Manager) SimIOExchange(fileID int, filePath string, cmd []byte) ([]byte, error) {
	return nil, fmt.Errorf("SIM IO on file %04X: %w", fileID, iso7816.ErrUnsupportedOperation)
}

// Shutdown closes every open channel and empties the table.
func (m *Manager) Shutdown() error {
	var errs []error
	for _, ch := range m.Channels() {
		if err := m.CloseLogicalChannel(ch.Number); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) store(ch *LogicalChannel) {
	m.mu.Lock()
	m.channels[ch.Number] = ch
	m.mu.Unlock()
}

func (m *Manager) remove(number int) {
	m.mu.Lock()
	delete(m.channels, number)
	m.mu.Unlock()
}
