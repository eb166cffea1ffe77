/*
Package iso7816 implements the command layer used to talk to a secure element according to ISO/IEC 7816-4.

It covers the short-form APDU codec, the logical channel encoding of the CLA byte, the classification of status words and the Engine that resolves one logical exchange over a byte-oriented transport.

# Fundamentals

The communication with a smart card is strictly synchronous:
 1. The Host sends a Command APDU (Header + Optional Body).
 2. The Card processes it and returns a Response APDU (Optional Body + Trailer SW1/SW2).

# Logical Channels

The CLA byte carries the channel number. Channels 0-3 use the first interindustry
encoding (bits 2-1), channels 4-19 the further interindustry encoding (bit 7 set,
bits 4-1 holding channel - 4). See EncodeClassByte and DecodeChannelNumber.

# Status Words

Every response ends with a 2-byte Status Word (SW). Classify maps it to an outcome:
  - 0x9000: Success.
  - 0x62XX, 0x63XX: Warning.
  - 0x6A81: no free channel (MANAGE CHANNEL open).
  - 0x6881: logical channels not supported.
  - 0x61XX: more data available (XX bytes), fetched with GET RESPONSE.
  - 0x6CXX: wrong length, XX is the correct Le.
  - Other: failure.

# Usage Example: Selecting on a Logical Channel

	engine := iso7816.NewEngine(transport)

	resp, err := engine.Exchange(iso7816.ManageChannelOpen())
	if err != nil {
	    log.Fatal(err)
	}
	channel := int(resp.Data[0])

	sel, _ := iso7816.SelectByAIDOnChannel(channel, aid, 0x00)
	resp, err = engine.Exchange(sel)
	if err != nil {
	    log.Fatal(err)
	}

	// The engine already followed any 61XX chain: resp holds the whole FCI.
	fci, err := iso7816.ParseSelectData(resp.Data, sel.P2)
	if err == nil && fci != nil {
	    fmt.Println(fci.Describe())
	}
*/
package iso7816
