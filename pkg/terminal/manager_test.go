package terminal

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gregLibert/se-terminal/pkg/cardtest"
	"github.com/gregLibert/se-terminal/pkg/iso7816"
	"github.com/gregLibert/se-terminal/pkg/tlv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAID = tlv.Hex("A0 00 00 00 03")

func newManager(t *testing.T, card *cardtest.Card, opts ...Option) *Manager {
	t.Helper()
	m, err := New(card, opts...)
	require.NoError(t, err)
	return m
}

func assertScript(t *testing.T, card *cardtest.Card) {
	t.Helper()
	assert.Empty(t, card.Mismatches())
	assert.Zero(t, card.Remaining(), "unconsumed steps")
}

func TestNew_Unavailable(t *testing.T) {
	card := cardtest.New()
	card.SetAvailable(false)

	_, err := New(card)
	assert.ErrorIs(t, err, iso7816.ErrTransportUnavailable)

	_, err = New(nil)
	assert.ErrorIs(t, err, iso7816.ErrTransportUnavailable)
}

func TestOpenLogicalChannel_NoAID(t *testing.T) {
	card := cardtest.New(cardtest.Expect("00 70 00 00 01", "02 90 00"))
	m := newManager(t, card)

	ch, err := m.OpenLogicalChannel(nil, 0x00)
	require.NoError(t, err)

	assert.Equal(t, 2, ch.Number)
	assert.Equal(t, StateOpen, ch.State)
	assert.Nil(t, ch.SelectResponse)
	assert.True(t, m.IsChannelOpen(2))
	assert.Equal(t, StateOpen, m.State(2))
	assertScript(t, card)
}

func TestOpenLogicalChannel_AssignedNumber(t *testing.T) {
	tests := []struct {
		name    string
		resp    string
		want    int
		wantErr error
	}{
		{"Channel 0 is not assignable", "00 90 00", 0, iso7816.ErrInvalidChannelNumber},
		{"Channel 20 is out of range", "14 90 00", 0, iso7816.ErrInvalidChannelNumber},
		{"Channel 19 is the last valid", "13 90 00", 19, nil},
		{"No data", "90 00", 0, iso7816.ErrMalformedResponse},
		{"Two data bytes", "01 02 90 00", 0, iso7816.ErrMalformedResponse},
		{"No free channel", "6A 81", 0, iso7816.ErrNoFreeChannel},
		{"Channels not supported", "68 81", 0, iso7816.ErrChannelsNotSupported},
		{"Other failure", "6D 00", 0, iso7816.ErrMalformedResponse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := cardtest.New(cardtest.Respond(tt.resp))
			m := newManager(t, card)

			ch, err := m.OpenLogicalChannel(nil, 0x00)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, ch)
				assert.Empty(t, m.Channels())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, ch.Number)
			assert.True(t, m.IsChannelOpen(tt.want))
		})
	}
}

func TestOpenLogicalChannel_SelectClassByte(t *testing.T) {
	tests := []struct {
		channel   byte
		selectCmd string
	}{
		{0x01, "01 A4 04 00 05 A000000003 00"},
		{0x05, "41 A4 04 00 05 A000000003 00"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("channel %d", tt.channel), func(t *testing.T) {
			card := cardtest.New(
				cardtest.Expect("00 70 00 00 01", fmt.Sprintf("%02X 9000", tt.channel)),
				cardtest.Expect(tt.selectCmd, "6F 07 84 05 A000000003 90 00"),
			)
			m := newManager(t, card)

			ch, err := m.OpenLogicalChannel(testAID, 0x00)
			require.NoError(t, err)

			assert.Equal(t, int(tt.channel), ch.Number)
			assert.Equal(t, StateSelected, ch.State)
			assert.Equal(t, iso7816.SW_NO_ERROR, ch.SelectStatus)
			if diff := cmp.Diff(tlv.Hex("6F 07 84 05 A000000003"), ch.SelectResponse); diff != "" {
				t.Errorf("select response mismatch (-want +got):\n%s", diff)
			}
			assertScript(t, card)
		})
	}
}

func TestOpenLogicalChannel_SelectChained(t *testing.T) {
	card := cardtest.New(
		cardtest.Respond("01 90 00"),
		cardtest.Expect("01 A4 04 00 05 A000000003 00", "6F 07 84 61 06"),
		cardtest.Expect("01 C0 00 00 06", "05 A000000003 90 00"),
	)
	m := newManager(t, card)

	ch, err := m.OpenLogicalChannel(testAID, 0x00)
	require.NoError(t, err)

	fci, err := ch.FCI()
	require.NoError(t, err)
	require.NotNil(t, fci)
	if diff := cmp.Diff(testAID, fci.GetAID()); diff != "" {
		t.Errorf("AID mismatch (-want +got):\n%s", diff)
	}
	assertScript(t, card)
}

func TestOpenLogicalChannel_SelectFailure(t *testing.T) {
	linkDown := errors.New("link down")

	tests := []struct {
		name   string
		step   cardtest.Step
		status iso7816.StatusWord
		cause  error
	}{
		{"Rejected", cardtest.Respond("6A 82"), 0x6A82, nil},
		{"Transport failure", cardtest.Fail(linkDown), 0, iso7816.ErrTransportFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := cardtest.New(
				cardtest.Respond("03 90 00"),
				tt.step,
				cardtest.Expect("03 70 80 03", "90 00"),
			)
			m := newManager(t, card)

			ch, err := m.OpenLogicalChannel(testAID, 0x00)
			assert.Nil(t, ch)
			require.ErrorIs(t, err, iso7816.ErrSelectFailed)

			var sf *SelectFailedError
			require.ErrorAs(t, err, &sf)
			assert.Equal(t, 3, sf.Channel)
			assert.Equal(t, tt.status, sf.Status)
			if tt.cause != nil {
				assert.ErrorIs(t, err, tt.cause)
			}

			// Exactly one close, and nothing left in the table.
			var closes int
			for _, cmd := range card.SentHex() {
				if cmd == "03708003" {
					closes++
				}
			}
			assert.Equal(t, 1, closes)
			assert.False(t, m.IsChannelOpen(3))
			assert.Empty(t, m.Channels())
			assertScript(t, card)
		})
	}
}

func TestOpenLogicalChannel_CloseFailureDoesNotMaskSelect(t *testing.T) {
	card := cardtest.New(
		cardtest.Respond("01 90 00"),
		cardtest.Respond("69 99"),
		cardtest.Fail(errors.New("link down")),
	)
	m := newManager(t, card)

	_, err := m.OpenLogicalChannel(testAID, 0x00)

	var sf *SelectFailedError
	require.ErrorAs(t, err, &sf)
	assert.Equal(t, iso7816.StatusWord(0x6999), sf.Status)
	assert.NotErrorIs(t, err, iso7816.ErrTransportFailure)
	assert.False(t, m.IsChannelOpen(1))
}

func TestOpenLogicalChannel_WarningPolicy(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		ok     bool
	}{
		{"Default accepts 6283", DefaultPolicy(), true},
		{"Strict rejects 6283", Policy{AcceptSelectWarnings: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			card := cardtest.New(
				cardtest.Respond("01 90 00"),
				cardtest.Respond("62 83"),
				cardtest.Respond("90 00"),
			)
			m := newManager(t, card, WithPolicy(tt.policy))

			ch, err := m.OpenLogicalChannel(testAID, 0x00)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, StateSelected, ch.State)
				assert.Equal(t, iso7816.StatusWord(0x6283), ch.SelectStatus)
				assert.Equal(t, 1, card.Remaining())
				return
			}
			assert.ErrorIs(t, err, iso7816.ErrSelectFailed)
			assert.Zero(t, card.Remaining())
		})
	}
}

func TestOpenLogicalChannel_ISDWorkaround(t *testing.T) {
	policy := Policy{AcceptSelectWarnings: true, SelectISDOnUnsupported: true}

	t.Run("Retry succeeds", func(t *testing.T) {
		card := cardtest.New(
			cardtest.Expect("00 70 00 00 01", "68 81"),
			cardtest.Expect("00 A4 04 00 00", "6F 0A 84 08 A000000151000000 90 00"),
			cardtest.Expect("00 70 00 00 01", "01 90 00"),
		)
		m := newManager(t, card, WithPolicy(policy))

		ch, err := m.OpenLogicalChannel(nil, 0x00)
		require.NoError(t, err)
		assert.Equal(t, 1, ch.Number)
		assertScript(t, card)
	})

	t.Run("ISD selection fails", func(t *testing.T) {
		card := cardtest.New(
			cardtest.Respond("68 81"),
			cardtest.Respond("6A 82"),
		)
		m := newManager(t, card, WithPolicy(policy))

		_, err := m.OpenLogicalChannel(nil, 0x00)
		assert.ErrorIs(t, err, iso7816.ErrChannelsNotSupported)
		assertScript(t, card)
	})

	t.Run("Retry refused again", func(t *testing.T) {
		card := cardtest.New(
			cardtest.Respond("68 81"),
			cardtest.Respond("90 00"),
			cardtest.Respond("68 81"),
		)
		m := newManager(t, card, WithPolicy(policy))

		_, err := m.OpenLogicalChannel(nil, 0x00)
		assert.ErrorIs(t, err, iso7816.ErrChannelsNotSupported)
		assertScript(t, card)
	})

	t.Run("Disabled by default", func(t *testing.T) {
		card := cardtest.New(cardtest.Respond("68 81"))
		m := newManager(t, card)

		_, err := m.OpenLogicalChannel(nil, 0x00)
		assert.ErrorIs(t, err, iso7816.ErrChannelsNotSupported)
		assert.Len(t, card.Sent(), 1)
	})
}

func TestOpenLogicalChannel_Unavailable(t *testing.T) {
	card := cardtest.New()
	m := newManager(t, card)
	card.SetAvailable(false)

	_, err := m.OpenLogicalChannel(nil, 0x00)
	assert.ErrorIs(t, err, iso7816.ErrTransportUnavailable)
	assert.Empty(t, card.Sent())
}

func TestOpenLogicalChannel_AIDTooLong(t *testing.T) {
	card := cardtest.New()
	m := newManager(t, card)

	_, err := m.OpenLogicalChannel(make([]byte, 256), 0x00)
	assert.ErrorIs(t, err, iso7816.ErrInvalidCommand)
	assert.Empty(t, card.Sent())
}

func TestCloseLogicalChannel(t *testing.T) {
	t.Run("Basic channel is a no-op", func(t *testing.T) {
		card := cardtest.New()
		m := newManager(t, card)

		assert.NoError(t, m.CloseLogicalChannel(0))
		assert.Empty(t, card.Sent())
		assert.True(t, m.IsChannelOpen(0))
	})

	t.Run("Open channel", func(t *testing.T) {
		card := cardtest.New(
			cardtest.Respond("07 90 00"),
			cardtest.Expect("43 70 80 07", "90 00"),
		)
		m := newManager(t, card)

		_, err := m.OpenLogicalChannel(nil, 0x00)
		require.NoError(t, err)

		assert.NoError(t, m.CloseLogicalChannel(7))
		assert.False(t, m.IsChannelOpen(7))
		assertScript(t, card)
	})

	t.Run("Transport failure still releases the entry", func(t *testing.T) {
		card := cardtest.New(
			cardtest.Respond("02 90 00"),
			cardtest.Fail(errors.New("link down")),
		)
		m := newManager(t, card)

		_, err := m.OpenLogicalChannel(nil, 0x00)
		require.NoError(t, err)

		err = m.CloseLogicalChannel(2)
		assert.ErrorIs(t, err, iso7816.ErrTransportFailure)
		assert.False(t, m.IsChannelOpen(2))
	})

	t.Run("Unavailable transport still releases the entry", func(t *testing.T) {
		card := cardtest.New(cardtest.Respond("02 90 00"))
		m := newManager(t, card)

		_, err := m.OpenLogicalChannel(nil, 0x00)
		require.NoError(t, err)
		card.SetAvailable(false)

		assert.ErrorIs(t, m.CloseLogicalChannel(2), iso7816.ErrTransportUnavailable)
		assert.False(t, m.IsChannelOpen(2))
		assert.Len(t, card.Sent(), 1)
	})

	t.Run("Out of range", func(t *testing.T) {
		m := newManager(t, cardtest.New())
		assert.ErrorIs(t, m.CloseLogicalChannel(20), iso7816.ErrInvalidChannelNumber)
	})
}

func TestTransmit(t *testing.T) {
	card := cardtest.New(
		cardtest.Expect("01 CA 00 66 00", "AA 61 01"),
		cardtest.Expect("01 C0 00 00 01", "BB 90 00"),
	)
	m := newManager(t, card)

	got, err := m.Transmit(tlv.Hex("01 CA 00 66 00"))
	require.NoError(t, err)
	if diff := cmp.Diff(tlv.Hex("AA BB 90 00"), got); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, m.Channels(), "transmit must not touch the table")
	assertScript(t, card)

	_, err = m.Transmit([]byte{0x00, 0xA4})
	assert.ErrorIs(t, err, iso7816.ErrInvalidCommand)
}

func TestTransmit_ChainBound(t *testing.T) {
	card := cardtest.New()
	card.Handler = func(cmd []byte) ([]byte, error) {
		return tlv.Hex("AA 61 01"), nil
	}
	m := newManager(t, card, WithMaxChain(2))

	_, err := m.Transmit(tlv.Hex("00 CA 00 66 00"))
	assert.ErrorIs(t, err, iso7816.ErrProtocolViolation)
	assert.Len(t, card.Sent(), 3)
}

func TestChannels_Snapshot(t *testing.T) {
	card := cardtest.New(
		cardtest.Respond("05 90 00"),
		cardtest.Respond("02 90 00"),
		cardtest.Respond("90 00"),
	)
	m := newManager(t, card)

	_, err := m.OpenLogicalChannel(nil, 0x00)
	require.NoError(t, err)
	_, err = m.OpenLogicalChannel(testAID, 0x0C)
	require.NoError(t, err)

	chans := m.Channels()
	require.Len(t, chans, 2)
	assert.Equal(t, 2, chans[0].Number)
	assert.Equal(t, StateSelected, chans[0].State)
	assert.Equal(t, byte(0x0C), chans[0].P2)
	assert.Equal(t, 5, chans[1].Number)
	assert.Equal(t, StateOpen, chans[1].State)

	chans[0].AID[0] = 0xFF
	assert.Equal(t, testAID, m.Channels()[0].AID, "snapshot must not alias the table")
}

func TestATR(t *testing.T) {
	card := cardtest.New()
	card.ATRBytes = tlv.Hex("3B 8F 80 01")
	m := newManager(t, card)

	assert.Equal(t, tlv.Hex("3B 8F 80 01"), m.ATR())

	bare, err := New(bareTransport{})
	require.NoError(t, err)
	assert.Nil(t, bare.ATR())
}

type bareTransport struct{}

func (bareTransport) Transmit([]byte) ([]byte, error) { return []byte{0x90, 0x00}, nil }
func (bareTransport) IsAvailable() bool               { return true }

func TestSimIOExchange(t *testing.T) {
	m := newManager(t, cardtest.New())
	_, err := m.SimIOExchange(0x6F3A, "3F007F10", nil)
	assert.ErrorIs(t, err, iso7816.ErrUnsupportedOperation)
}

func TestShutdown(t *testing.T) {
	card := cardtest.New(
		cardtest.Respond("01 90 00"),
		cardtest.Respond("02 90 00"),
		cardtest.Expect("01 70 80 01", "90 00"),
		cardtest.Expect("02 70 80 02", "90 00"),
	)
	m := newManager(t, card)

	for i := 0; i < 2; i++ {
		_, err := m.OpenLogicalChannel(nil, 0x00)
		require.NoError(t, err)
	}

	assert.NoError(t, m.Shutdown())
	assert.Empty(t, m.Channels())
	assertScript(t, card)
}

func TestConcurrentExchangesDoNotInterleave(t *testing.T) {
	var (
		mu   sync.Mutex
		next = 1
	)
	card := cardtest.New()
	card.Delay = time.Millisecond
	card.Handler = func(cmd []byte) ([]byte, error) {
		switch iso7816.InsCode(cmd[1]) {
		case iso7816.INS_MANAGE_CHANNEL:
			if cmd[2] == 0x80 {
				return tlv.Hex("90 00"), nil
			}
			mu.Lock()
			defer mu.Unlock()
			n := next
			next = next%19 + 1
			return []byte{byte(n), 0x90, 0x00}, nil
		case iso7816.INS_GET_RESPONSE:
			return tlv.Hex("BB 90 00"), nil
		default:
			return tlv.Hex("AA 61 01"), nil
		}
	}
	m := newManager(t, card)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			resp, err := m.Transmit(tlv.Hex("00 CA 00 66 00"))
			if err == nil && len(resp) != 4 {
				err = fmt.Errorf("interleaved response %X", resp)
			}
			if err != nil {
				errs <- err
			}
		}()
		go func() {
			defer wg.Done()
			ch, err := m.OpenLogicalChannel(testAID, 0x00)
			if err != nil {
				errs <- err
				return
			}
			if err := m.CloseLogicalChannel(ch.Number); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Zero(t, card.Overlaps(), "Transmit calls overlapped")
}
