package packet

import "io"

// Pingreq is the PINGREQ packet (section 3.12); it has no variable header
// or payload.
type Pingreq struct{}

func (Pingreq) Type() Type             { return PINGREQ }
func (Pingreq) Encode(w io.Writer) error { return encodeEmpty(w, PINGREQ) }

// Pingresp is the PINGRESP packet (section 3.13).
type Pingresp struct{}

func (Pingresp) Type() Type             { return PINGRESP }
func (Pingresp) Encode(w io.Writer) error { return encodeEmpty(w, PINGRESP) }

// Disconnect is the DISCONNECT packet (section 3.14).
type Disconnect struct{}

func (Disconnect) Type() Type             { return DISCONNECT }
func (Disconnect) Encode(w io.Writer) error { return encodeEmpty(w, DISCONNECT) }

func encodeEmpty(w io.Writer, t Type) error {
	fh := FixedHeader{Type: t, RemainingLength: 0}
	return fh.WriteTo(w)
}
