package packet

import (
	"encoding/binary"
	"io"
)

// readUint16 reads a 2-byte big-endian integer.
func readUint16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, eofOr(err)
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

// readString reads an MQTT UTF-8 encoded string: a 2-byte length prefix
// followed by that many bytes of UTF-8 data.
func readString(r io.Reader) (string, error) {
	n, err := readUint16(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", eofOr(err)
	}
	s := string(buf)
	if err := ValidateUTF8String(s); err != nil {
		return "", err
	}
	return s, nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return ErrMalformedPacket
	}
	if err := writeUint16(w, uint16(len(s))); err != nil {
		return err
	}
	_, err := w.Write([]byte(s))
	return err
}

// readBinary reads an MQTT "binary data" field: a 2-byte length prefix
// followed by that many raw bytes (used for CONNECT's will payload and
// password; a PUBLISH payload has no length prefix and is read raw).
func readBinary(r io.Reader) ([]byte, error) {
	n, err := readUint16(r)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, eofOr(err)
	}
	return buf, nil
}

func writeBinary(w io.Writer, b []byte) error {
	if len(b) > 0xFFFF {
		return ErrMalformedPacket
	}
	if err := writeUint16(w, uint16(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}
