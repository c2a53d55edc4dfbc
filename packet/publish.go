package packet

import "io"

// Publish is the PUBLISH packet (section 3.3).
type Publish struct {
	DUP       bool
	QoS       QoS
	Retain    bool
	TopicName string
	PacketID  uint16 // valid only when QoS > 0
	Payload   []byte
}

func (p *Publish) Type() Type { return PUBLISH }

func (p *Publish) Encode(w io.Writer) error {
	if !p.QoS.IsValid() {
		return ErrInvalidQoS
	}
	remainingLength := 2 + len(p.TopicName) + len(p.Payload)
	if p.QoS > QoS0 {
		remainingLength += 2
	}

	fh := FixedHeader{
		Type:            PUBLISH,
		RemainingLength: uint32(remainingLength),
		DUP:             p.DUP,
		QoS:             p.QoS,
		Retain:          p.Retain,
	}
	if err := fh.WriteTo(w); err != nil {
		return err
	}
	if err := writeString(w, p.TopicName); err != nil {
		return err
	}
	if p.QoS > QoS0 {
		if err := writeUint16(w, p.PacketID); err != nil {
			return err
		}
	}
	if len(p.Payload) == 0 {
		return nil
	}
	_, err := w.Write(p.Payload)
	return err
}

// decodePublish decodes the variable header and payload given the already
// parsed fixed header fh (needed for QoS/remaining length).
func decodePublish(r io.Reader, fh *FixedHeader) (*Publish, error) {
	lr := io.LimitReader(r, int64(fh.RemainingLength))

	topic, err := readString(lr)
	if err != nil {
		return nil, err
	}
	if err := validateTopicName(topic); err != nil {
		return nil, err
	}

	p := &Publish{DUP: fh.DUP, QoS: fh.QoS, Retain: fh.Retain, TopicName: topic}

	consumed := 2 + len(topic)
	if fh.QoS > QoS0 {
		pid, err := readUint16(lr)
		if err != nil {
			return nil, err
		}
		if pid == 0 {
			return nil, ErrInvalidPacketIDZero
		}
		p.PacketID = pid
		consumed += 2
	}

	remaining := int(fh.RemainingLength) - consumed
	if remaining < 0 {
		return nil, ErrRemainingLenMismatch
	}
	if remaining > 0 {
		buf := make([]byte, remaining)
		if _, err := io.ReadFull(lr, buf); err != nil {
			return nil, eofOr(err)
		}
		p.Payload = buf
	}
	return p, nil
}

func validateTopicName(topic string) error {
	if topic == "" {
		return ErrMalformedPacket
	}
	for _, r := range topic {
		if r == '+' || r == '#' {
			return ErrMalformedPacket
		}
	}
	return ValidateUTF8String(topic)
}
