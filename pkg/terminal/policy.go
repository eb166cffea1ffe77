package terminal

// Policy holds the behaviours that differ between secure element integrations.
type Policy struct {
	// AcceptSelectWarnings accepts a SELECT answered with 62XX or 63XX.
	AcceptSelectWarnings bool

	// SelectISDOnUnsupported works around elements that refuse MANAGE CHANNEL with 6881
	// until the issuer security domain is selected: the ISD is selected on the basic
	// channel and the open is retried once.
	SelectISDOnUnsupported bool
}

// DefaultPolicy accepts SELECT warnings and applies no workaround.
func DefaultPolicy() Policy {
	return Policy{AcceptSelectWarnings: true}
}
