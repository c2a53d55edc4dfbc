package packet

import "io"

// Unsuback is the UNSUBACK packet (section 3.11).
type Unsuback struct{ PacketID uint16 }

func (u *Unsuback) Type() Type         { return UNSUBACK }
func (u *Unsuback) Encode(w io.Writer) error { return encodeIDOnly(w, UNSUBACK, 0, u.PacketID) }

func decodeUnsuback(r io.Reader) (*Unsuback, error) {
	id, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	return &Unsuback{PacketID: id}, nil
}
