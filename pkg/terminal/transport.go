package terminal

import "github.com/gregLibert/se-terminal/pkg/iso7816"

// Transport is the secure element link a Manager drives.
//
// Transmit must deliver one complete response or fail; IsAvailable reports whether
// the element is present and powered. Implementations that also satisfy sync.Locker
// have every exchange serialised on that lock.
type Transport interface {
	iso7816.Transmitter
	IsAvailable() bool
}

// ATRProvider is implemented by transports that know the answer-to-reset.
type ATRProvider interface {
	ATR() []byte
}
