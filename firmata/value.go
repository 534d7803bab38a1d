package firmata

import (
	"fmt"
	"io"
)

// Firmata carries every value as 7-bit data bytes so that only command bytes
// have the high bit set.

const dataMask byte = 0x7F

// fmUint14 is a value split into a least significant and most significant
// 7-bit byte.
type fmUint14 struct {
	V uint16
}

func (u *fmUint14) Decode(rd io.Reader) (int, error) {
	buf := make([]byte, 2)
	n, err := io.ReadFull(rd, buf)
	if err != nil {
		return n, fmt.Errorf("couldn't read 14 bit value: %w", err)
	}

	u.V = uint16(buf[0]&dataMask) | uint16(buf[1]&dataMask)<<7

	return n, nil
}

func (u *fmUint14) Encode(w io.Writer) (int, error) {
	return w.Write(split14(u.V))
}

func split14(v uint16) []byte {
	return []byte{byte(v) & dataMask, byte(v>>7) & dataMask}
}

func join14(lsb, msb byte) uint16 {
	return uint16(lsb&dataMask) | uint16(msb&dataMask)<<7
}

// fmString is text sent inside a sysex message, one character per pair of
// 7-bit bytes.
type fmString struct {
	V string
}

func decodeString(data []byte) string {
	buf := make([]byte, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		buf = append(buf, byte(join14(data[i], data[i+1])))
	}

	return string(buf)
}

func (s fmString) bytes() []byte {
	buf := make([]byte, 0, len(s.V)*2)
	for i := 0; i < len(s.V); i++ {
		buf = append(buf, split14(uint16(s.V[i]))...)
	}

	return buf
}

// fmVarUint is a value of any width sent as consecutive 7-bit bytes, least
// significant first. Pin state responses use it.
type fmVarUint struct {
	V uint32
}

func decodeVarUint(data []byte) fmVarUint {
	var v uint32
	for i, b := range data {
		if i >= 5 {
			break
		}
		v |= uint32(b&dataMask) << (7 * uint(i))
	}

	return fmVarUint{V: v}
}

func (u fmVarUint) bytes() []byte {
	buf := []byte{byte(u.V) & dataMask}
	for v := u.V >> 7; v != 0; v >>= 7 {
		buf = append(buf, byte(v)&dataMask)
	}

	return buf
}
