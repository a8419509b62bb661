// Package protocol provides the CBOR codec used for every frame on the
// command socket. One encoded Command or CommandResponse travels per
// WebSocket binary message; there is no extra framing or correlation id.
package protocol

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): sorted map
// keys, smallest integer encoding, no indefinite-length items. The same
// logical value always produces identical bytes.
var encMode cbor.EncMode

// decMode accepts standard CBOR; unknown fields are ignored so older
// clients keep working against newer daemons.
var decMode cbor.DecMode

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	// Timestamps travel as RFC 3339 text so snapshots round-trip without
	// losing sub-second precision.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, used to delay decoding of
// variant payloads.
type RawMessage = cbor.RawMessage
