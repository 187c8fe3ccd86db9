package amqpengine

import (
	"encoding/binary"
	"fmt"
)

const frameHeaderLen = 8

// encodeFrame wraps body (a performative, plus payload for transfer
// frames) in the standard 8-byte AMQP frame header: 4-byte size, 1-byte
// data offset (fixed at 2 four-byte words, i.e. 8), 1-byte type, 2-byte
// channel.
func encodeFrame(channel uint16, body []byte) []byte {
	size := uint32(frameHeaderLen + len(body))
	frame := make([]byte, frameHeaderLen, int(size))
	binary.BigEndian.PutUint32(frame[0:4], size)
	frame[4] = 2
	frame[5] = 0 // frame type 0: AMQP
	binary.BigEndian.PutUint16(frame[6:8], channel)
	return append(frame, body...)
}

// decodeFrame extracts one complete frame from the head of buf, returning
// the frame body and the number of bytes consumed. ok is false when buf
// does not yet hold a complete frame (caller should wait for more input).
func decodeFrame(buf []byte) (body []byte, consumed int, ok bool, err error) {
	if len(buf) < 4 {
		return nil, 0, false, nil
	}
	size := binary.BigEndian.Uint32(buf[0:4])
	if size < frameHeaderLen {
		return nil, 0, false, errInvalidFrameSize
	}
	if uint32(len(buf)) < size {
		return nil, 0, false, nil
	}
	if len(buf) < 5 {
		return nil, 0, false, nil
	}
	doff := int(buf[4])
	headerLen := doff * 4
	if headerLen < frameHeaderLen || uint32(headerLen) > size {
		return nil, 0, false, errInvalidFrameSize
	}
	return buf[headerLen:size], int(size), true, nil
}

var errInvalidFrameSize = fmt.Errorf("amqpengine: invalid frame size")
