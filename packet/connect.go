package packet

import "io"

// ProtocolName is the protocol name field MQTT 3.1.1 clients must send.
const ProtocolName = "MQTT"

// ProtocolNameMQIsdp is the legacy MQTT 3.1 protocol name. A CONNECT framed
// with this name is accepted at the wire layer and rejected one level up
// with RefusedUnacceptableProtocol, rather than treated as malformed, so
// a 3.1 client sees an accurate CONNACK return code instead of a dropped
// connection.
const ProtocolNameMQIsdp = "MQIsdp"

// ProtocolLevel311 is the protocol level byte for MQTT 3.1.1.
const ProtocolLevel311 byte = 4

// Connect is the CONNECT packet (section 3.1).
type Connect struct {
	ProtocolName    string
	ProtocolLevel   byte
	CleanSession    bool
	WillFlag        bool
	WillQoS         QoS
	WillRetain      bool
	UsernameFlag    bool
	PasswordFlag    bool
	KeepAlive       uint16
	ClientID        string
	WillTopic       string
	WillPayload     []byte
	Username        string
	Password        []byte
}

func (c *Connect) Type() Type { return CONNECT }

func (c *Connect) Encode(w io.Writer) error {
	varHeaderLen := 2 + len(c.ProtocolName) + 1 + 1 + 2
	payloadLen := 2 + len(c.ClientID)
	if c.WillFlag {
		payloadLen += 2 + len(c.WillTopic)
		payloadLen += 2 + len(c.WillPayload)
	}
	if c.UsernameFlag {
		payloadLen += 2 + len(c.Username)
	}
	if c.PasswordFlag {
		payloadLen += 2 + len(c.Password)
	}

	fh := FixedHeader{Type: CONNECT, RemainingLength: uint32(varHeaderLen + payloadLen)}
	if err := fh.WriteTo(w); err != nil {
		return err
	}

	if err := writeString(w, c.ProtocolName); err != nil {
		return err
	}
	if _, err := w.Write([]byte{c.ProtocolLevel}); err != nil {
		return err
	}

	var flags byte
	if c.CleanSession {
		flags |= 0x02
	}
	if c.WillFlag {
		flags |= 0x04
		flags |= byte(c.WillQoS) << 3
		if c.WillRetain {
			flags |= 0x20
		}
	}
	if c.PasswordFlag {
		flags |= 0x40
	}
	if c.UsernameFlag {
		flags |= 0x80
	}
	if _, err := w.Write([]byte{flags}); err != nil {
		return err
	}

	if err := writeUint16(w, c.KeepAlive); err != nil {
		return err
	}
	if err := writeString(w, c.ClientID); err != nil {
		return err
	}
	if c.WillFlag {
		if err := writeString(w, c.WillTopic); err != nil {
			return err
		}
		if err := writeBinary(w, c.WillPayload); err != nil {
			return err
		}
	}
	if c.UsernameFlag {
		if err := writeString(w, c.Username); err != nil {
			return err
		}
	}
	if c.PasswordFlag {
		if err := writeBinary(w, c.Password); err != nil {
			return err
		}
	}
	return nil
}

// decodeConnect decodes the variable header and payload of a CONNECT
// packet. fh has already been consumed from r.
func decodeConnect(r io.Reader) (*Connect, error) {
	protoName, err := readString(r)
	if err != nil {
		return nil, err
	}
	if protoName != ProtocolName && protoName != ProtocolNameMQIsdp {
		return nil, ErrInvalidProtocolName
	}

	var lvl [1]byte
	if _, err := io.ReadFull(r, lvl[:]); err != nil {
		return nil, eofOr(err)
	}

	var flagsB [1]byte
	if _, err := io.ReadFull(r, flagsB[:]); err != nil {
		return nil, eofOr(err)
	}
	flags := flagsB[0]
	if flags&0x01 != 0 {
		return nil, ErrMalformedPacket
	}

	keepAlive, err := readUint16(r)
	if err != nil {
		return nil, err
	}

	c := &Connect{
		ProtocolName:  protoName,
		ProtocolLevel: lvl[0],
		CleanSession:  flags&0x02 != 0,
		WillFlag:      flags&0x04 != 0,
		WillQoS:       QoS((flags & 0x18) >> 3),
		WillRetain:    flags&0x20 != 0,
		PasswordFlag:  flags&0x40 != 0,
		UsernameFlag:  flags&0x80 != 0,
		KeepAlive:     keepAlive,
	}
	if !c.WillQoS.IsValid() {
		return nil, ErrInvalidQoS
	}
	if !c.WillFlag && (c.WillQoS != QoS0 || c.WillRetain) {
		return nil, ErrMalformedPacket
	}

	clientID, err := readString(r)
	if err != nil {
		return nil, err
	}
	c.ClientID = clientID

	if c.WillFlag {
		c.WillTopic, err = readString(r)
		if err != nil {
			return nil, err
		}
		c.WillPayload, err = readBinary(r)
		if err != nil {
			return nil, err
		}
	}
	if c.UsernameFlag {
		c.Username, err = readString(r)
		if err != nil {
			return nil, err
		}
	}
	if c.PasswordFlag {
		c.Password, err = readBinary(r)
		if err != nil {
			return nil, err
		}
	}

	if protoName == ProtocolNameMQIsdp || c.ProtocolLevel != ProtocolLevel311 {
		return c, &PacketError{Err: ErrInvalidProtocolVersion, ReturnCode: RefusedUnacceptableProtocol}
	}

	return c, nil
}
