package wire

import (
	"encoding/binary"

	"github.com/golang/glog"
)

// Encode returns the exact byte representation of f.
func Encode(f Frame) []byte {
	switch f.Op {
	case OpHello, OpWelcome:
		b := make([]byte, 5)
		b[0] = byte(f.Op)
		binary.BigEndian.PutUint32(b[1:], uint32(f.Port))
		return b
	case OpAddUser:
		b := make([]byte, 5)
		b[0] = byte(f.Op)
		binary.BigEndian.PutUint32(b[1:], uint32(f.User))
		return b
	case OpAddUsers:
		b := make([]byte, 5+4*len(f.Users))
		b[0] = byte(f.Op)
		binary.BigEndian.PutUint32(b[1:], uint32(len(f.Users)))
		for i, id := range f.Users {
			binary.BigEndian.PutUint32(b[5+4*i:], uint32(id))
		}
		return b
	case OpMessage:
		b := make([]byte, 13+len(f.Payload))
		b[0] = byte(f.Op)
		binary.BigEndian.PutUint32(b[1:], uint32(f.From))
		binary.BigEndian.PutUint32(b[5:], uint32(f.To))
		binary.BigEndian.PutUint32(b[9:], uint32(len(f.Payload)))
		copy(b[13:], f.Payload)
		return b
	}
	return nil
}

// AppendEncode is Encode into dst, used by the link writer to batch frames.
func AppendEncode(dst []byte, f Frame) []byte {
	return append(dst, Encode(f)...)
}

// Decode consumes as many complete frames as buf holds, starting at
// offset 0, and reports how many bytes were used. A truncated trailing
// frame is left unconsumed for the next read. Unknown opcodes (and
// length fields out of range) cost one byte each and are logged.
func Decode(buf []byte) ([]Frame, int) {
	var out []Frame
	off := 0
	for off < len(buf) {
		f, n, status := decodeOne(buf[off:])
		switch status {
		case needMore:
			return out, off
		case skip:
			glog.Infof("wire: skip unknown byte 0x%02x at offset %d", buf[off], off)
			off++
			continue
		}
		out = append(out, f)
		off += n
	}
	return out, off
}

type decodeStatus int

const (
	complete decodeStatus = iota
	needMore
	skip
)

func decodeOne(b []byte) (Frame, int, decodeStatus) {
	op := Opcode(b[0])
	switch op {
	case OpHello, OpWelcome:
		if len(b) < 5 {
			return Frame{}, 0, needMore
		}
		return Frame{Op: op, Port: readInt32(b[1:])}, 5, complete

	case OpAddUser:
		if len(b) < 5 {
			return Frame{}, 0, needMore
		}
		return Frame{Op: op, User: readInt32(b[1:])}, 5, complete

	case OpAddUsers:
		if len(b) < 5 {
			return Frame{}, 0, needMore
		}
		count := readInt32(b[1:])
		if count < 0 || count > MaxUsers {
			return Frame{}, 0, skip
		}
		size := 5 + 4*int(count)
		if len(b) < size {
			return Frame{}, 0, needMore
		}
		users := make([]int32, count)
		for i := range users {
			users[i] = readInt32(b[5+4*i:])
		}
		return Frame{Op: op, Users: users}, size, complete

	case OpMessage:
		if len(b) < 13 {
			return Frame{}, 0, needMore
		}
		n := readInt32(b[9:])
		if n < 0 || n > MaxPayload {
			return Frame{}, 0, skip
		}
		size := 13 + int(n)
		if len(b) < size {
			return Frame{}, 0, needMore
		}
		payload := make([]byte, n)
		copy(payload, b[13:size])
		return Frame{
			Op:      op,
			From:    readInt32(b[1:]),
			To:      readInt32(b[5:]),
			Payload: payload,
		}, size, complete
	}
	return Frame{}, 0, skip
}

func readInt32(b []byte) int32 {
	return int32(binary.BigEndian.Uint32(b))
}
