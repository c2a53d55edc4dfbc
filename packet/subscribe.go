package packet

import "io"

// TopicSubscription pairs a topic filter with the requested maximum QoS
// (section 3.8.3).
type TopicSubscription struct {
	TopicFilter string
	QoS         QoS
}

// Subscribe is the SUBSCRIBE packet (section 3.8).
type Subscribe struct {
	PacketID      uint16
	Subscriptions []TopicSubscription
}

func (s *Subscribe) Type() Type { return SUBSCRIBE }

func (s *Subscribe) Encode(w io.Writer) error {
	if len(s.Subscriptions) == 0 {
		return ErrEmptySubscribeList
	}
	remainingLength := 2
	for _, sub := range s.Subscriptions {
		remainingLength += 2 + len(sub.TopicFilter) + 1
	}

	fh := FixedHeader{Type: SUBSCRIBE, Flags: 0x02, RemainingLength: uint32(remainingLength)}
	if err := fh.WriteTo(w); err != nil {
		return err
	}
	if err := writeUint16(w, s.PacketID); err != nil {
		return err
	}
	for _, sub := range s.Subscriptions {
		if err := writeString(w, sub.TopicFilter); err != nil {
			return err
		}
		if _, err := w.Write([]byte{byte(sub.QoS)}); err != nil {
			return err
		}
	}
	return nil
}

func decodeSubscribe(r io.Reader, fh *FixedHeader) (*Subscribe, error) {
	lr := io.LimitReader(r, int64(fh.RemainingLength))

	id, err := readUint16(lr)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, ErrInvalidPacketIDZero
	}

	s := &Subscribe{PacketID: id}
	remaining := int(fh.RemainingLength) - 2
	for remaining > 0 {
		filter, err := readString(lr)
		if err != nil {
			return nil, err
		}
		var qb [1]byte
		if _, err := io.ReadFull(lr, qb[:]); err != nil {
			return nil, eofOr(err)
		}
		qos := QoS(qb[0])
		if !qos.IsValid() {
			return nil, ErrInvalidQoS
		}
		s.Subscriptions = append(s.Subscriptions, TopicSubscription{TopicFilter: filter, QoS: qos})
		remaining -= 2 + len(filter) + 1
	}
	if remaining != 0 {
		return nil, ErrRemainingLenMismatch
	}
	if len(s.Subscriptions) == 0 {
		return nil, ErrEmptySubscribeList
	}
	return s, nil
}
