// Package amqpengine hand-rolls the minimal AMQP 1.0 subset a peer
// connection needs: one session, one sender link, one receiver link,
// presettled=false. It deliberately does not implement a general-purpose
// AMQP 1.0 client/server — only the performatives and primitive types
// open/begin/attach/transfer/disposition/flow/close require.
package amqpengine

import (
	"encoding/binary"
	"fmt"
)

// Symbol is an AMQP 1.0 symbol: ASCII text used for link/container names
// and similar protocol constants, encoded distinctly from an ordinary
// string.
type Symbol string

// Value is the Go-side representation of a decoded AMQP primitive: nil,
// bool, uint32, uint64, []byte, string, Symbol, []Value, or *Described.
type Value any

// Described is an AMQP described type: a descriptor (here, always the
// small numeric performative code) followed by a single value — for every
// performative in this package, a list of fields.
type Described struct {
	Descriptor uint64
	Fields     []Value
}

// Performative descriptor codes, as assigned by the AMQP 1.0 spec.
const (
	codeOpen         uint64 = 0x10
	codeBegin        uint64 = 0x11
	codeAttach       uint64 = 0x12
	codeFlow         uint64 = 0x13
	codeTransfer     uint64 = 0x14
	codeDisposition  uint64 = 0x15
	codeDetach       uint64 = 0x16
	codeEnd          uint64 = 0x17
	codeClose        uint64 = 0x18
)

// encodeValue appends the AMQP 1.0 wire encoding of v to dst and returns
// the extended slice.
func encodeValue(dst []byte, v Value) []byte {
	switch x := v.(type) {
	case nil:
		return append(dst, 0x40)
	case bool:
		if x {
			return append(dst, 0x41)
		}
		return append(dst, 0x42)
	case uint32:
		return encodeUint(dst, x)
	case uint64:
		return encodeULong(dst, x)
	case []byte:
		return encodeBinary(dst, x)
	case string:
		return encodeString(dst, x)
	case Symbol:
		return encodeSymbol(dst, string(x))
	case []Value:
		return encodeList(dst, x)
	case *Described:
		dst = append(dst, 0x00)
		dst = encodeULong(dst, x.Descriptor)
		return encodeList(dst, x.Fields)
	default:
		panic(fmt.Sprintf("amqpengine: unsupported value type %T", v))
	}
}

func encodeUint(dst []byte, v uint32) []byte {
	switch {
	case v == 0:
		return append(dst, 0x43) // uint0
	case v <= 0xff:
		return append(dst, 0x52, byte(v)) // smalluint
	default:
		dst = append(dst, 0x70)
		return appendUint32(dst, v)
	}
}

func encodeULong(dst []byte, v uint64) []byte {
	switch {
	case v == 0:
		return append(dst, 0x44) // ulong0
	case v <= 0xff:
		return append(dst, 0x53, byte(v)) // smallulong
	default:
		dst = append(dst, 0x80)
		return appendUint64(dst, v)
	}
}

func encodeBinary(dst []byte, b []byte) []byte {
	if len(b) <= 0xff {
		dst = append(dst, 0xa0, byte(len(b)))
		return append(dst, b...)
	}
	dst = append(dst, 0xb0)
	dst = appendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

func encodeSymbol(dst []byte, s string) []byte {
	if len(s) <= 0xff {
		dst = append(dst, 0xa3, byte(len(s)))
		return append(dst, s...)
	}
	dst = append(dst, 0xb3)
	dst = appendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

func encodeString(dst []byte, s string) []byte {
	if len(s) <= 0xff {
		dst = append(dst, 0xa1, byte(len(s)))
		return append(dst, s...)
	}
	dst = append(dst, 0xb1)
	dst = appendUint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// encodeList encodes items as an AMQP list, using the null-padded
// trailing-omission convention where a nil item just encodes as AMQP null
// rather than being dropped — every performative's field count is fixed
// positionally.
func encodeList(dst []byte, items []Value) []byte {
	if len(items) == 0 {
		return append(dst, 0x45) // list0
	}
	var body []byte
	for _, item := range items {
		body = encodeValue(body, item)
	}
	if len(body) <= 0xfe && len(items) <= 0xff {
		dst = append(dst, 0xc0, byte(len(body)+1), byte(len(items)))
		return append(dst, body...)
	}
	dst = append(dst, 0xd0)
	dst = appendUint32(dst, uint32(len(body)+4))
	dst = appendUint32(dst, uint32(len(items)))
	return append(dst, body...)
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendUint64(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// decodeValue reads one AMQP value from buf, returning it and the unread
// remainder.
func decodeValue(buf []byte) (Value, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, fmt.Errorf("amqpengine: decode: empty buffer")
	}
	code := buf[0]
	rest := buf[1:]

	switch code {
	case 0x40:
		return nil, rest, nil
	case 0x41:
		return true, rest, nil
	case 0x42:
		return false, rest, nil
	case 0x56:
		if len(rest) < 1 {
			return nil, nil, errShort
		}
		return rest[0] != 0, rest[1:], nil
	case 0x43:
		return uint32(0), rest, nil
	case 0x52:
		if len(rest) < 1 {
			return nil, nil, errShort
		}
		return uint32(rest[0]), rest[1:], nil
	case 0x70:
		if len(rest) < 4 {
			return nil, nil, errShort
		}
		return binary.BigEndian.Uint32(rest[:4]), rest[4:], nil
	case 0x44:
		return uint64(0), rest, nil
	case 0x53:
		if len(rest) < 1 {
			return nil, nil, errShort
		}
		return uint64(rest[0]), rest[1:], nil
	case 0x80:
		if len(rest) < 8 {
			return nil, nil, errShort
		}
		return binary.BigEndian.Uint64(rest[:8]), rest[8:], nil
	case 0xa0:
		return decodeSizedBytes(rest, 1)
	case 0xb0:
		return decodeSizedBytes(rest, 4)
	case 0xa1, 0xa3:
		v, r, err := decodeSizedBytes(rest, 1)
		if err != nil {
			return nil, nil, err
		}
		return stringOrSymbol(code, v.([]byte)), r, nil
	case 0xb1, 0xb3:
		v, r, err := decodeSizedBytes(rest, 4)
		if err != nil {
			return nil, nil, err
		}
		return stringOrSymbol(code, v.([]byte)), r, nil
	case 0x45:
		return []Value{}, rest, nil
	case 0xc0:
		return decodeList(rest, 1)
	case 0xd0:
		return decodeList(rest, 4)
	case 0x00:
		descRaw, r, err := decodeValue(rest)
		if err != nil {
			return nil, nil, err
		}
		descriptor, ok := asUint64(descRaw)
		if !ok {
			return nil, nil, fmt.Errorf("amqpengine: descriptor is not a number")
		}
		valRaw, r2, err := decodeValue(r)
		if err != nil {
			return nil, nil, err
		}
		fields, _ := valRaw.([]Value)
		return &Described{Descriptor: descriptor, Fields: fields}, r2, nil
	default:
		return nil, nil, fmt.Errorf("amqpengine: unsupported wire type 0x%02x", code)
	}
}

func stringOrSymbol(code byte, b []byte) Value {
	if code == 0xa3 || code == 0xb3 {
		return Symbol(b)
	}
	return string(b)
}

func decodeSizedBytes(buf []byte, sizeLen int) (Value, []byte, error) {
	if len(buf) < sizeLen {
		return nil, nil, errShort
	}
	var n int
	if sizeLen == 1 {
		n = int(buf[0])
	} else {
		n = int(binary.BigEndian.Uint32(buf[:4]))
	}
	buf = buf[sizeLen:]
	if len(buf) < n {
		return nil, nil, errShort
	}
	return append([]byte(nil), buf[:n]...), buf[n:], nil
}

func decodeList(buf []byte, sizeLen int) (Value, []byte, error) {
	if len(buf) < sizeLen {
		return nil, nil, errShort
	}
	var size int
	if sizeLen == 1 {
		size = int(buf[0])
	} else {
		size = int(binary.BigEndian.Uint32(buf[:4]))
	}
	buf = buf[sizeLen:]
	if len(buf) < size {
		return nil, nil, errShort
	}
	listBody := buf[:size]
	rest := buf[size:]

	var count int
	if sizeLen == 1 {
		count = int(listBody[0])
		listBody = listBody[1:]
	} else {
		count = int(binary.BigEndian.Uint32(listBody[:4]))
		listBody = listBody[4:]
	}

	items := make([]Value, 0, count)
	for i := 0; i < count; i++ {
		var v Value
		var err error
		v, listBody, err = decodeValue(listBody)
		if err != nil {
			return nil, nil, err
		}
		items = append(items, v)
	}
	return items, rest, nil
}

func asUint64(v Value) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	default:
		return 0, false
	}
}

var errShort = fmt.Errorf("amqpengine: buffer too short")
