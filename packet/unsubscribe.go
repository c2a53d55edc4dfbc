package packet

import "io"

// Unsubscribe is the UNSUBSCRIBE packet (section 3.10).
type Unsubscribe struct {
	PacketID     uint16
	TopicFilters []string
}

func (u *Unsubscribe) Type() Type { return UNSUBSCRIBE }

func (u *Unsubscribe) Encode(w io.Writer) error {
	if len(u.TopicFilters) == 0 {
		return ErrEmptyUnsubscribeList
	}
	remainingLength := 2
	for _, t := range u.TopicFilters {
		remainingLength += 2 + len(t)
	}

	fh := FixedHeader{Type: UNSUBSCRIBE, Flags: 0x02, RemainingLength: uint32(remainingLength)}
	if err := fh.WriteTo(w); err != nil {
		return err
	}
	if err := writeUint16(w, u.PacketID); err != nil {
		return err
	}
	for _, t := range u.TopicFilters {
		if err := writeString(w, t); err != nil {
			return err
		}
	}
	return nil
}

func decodeUnsubscribe(r io.Reader, fh *FixedHeader) (*Unsubscribe, error) {
	lr := io.LimitReader(r, int64(fh.RemainingLength))

	id, err := readUint16(lr)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, ErrInvalidPacketIDZero
	}

	u := &Unsubscribe{PacketID: id}
	remaining := int(fh.RemainingLength) - 2
	for remaining > 0 {
		filter, err := readString(lr)
		if err != nil {
			return nil, err
		}
		u.TopicFilters = append(u.TopicFilters, filter)
		remaining -= 2 + len(filter)
	}
	if remaining != 0 {
		return nil, ErrRemainingLenMismatch
	}
	if len(u.TopicFilters) == 0 {
		return nil, ErrEmptyUnsubscribeList
	}
	return u, nil
}
