// Package wire implements the binary framing spoken between relay
// instances on the internal link.
//
// Every frame starts with a one byte opcode followed by big-endian fields:
//
//	0x01 hello     port int32
//	0x02 welcome   port int32
//	0x10 addusers  count int32, count x userId int32
//	0x11 adduser   userId int32
//	0x20 message   from int32, to int32, len int32, payload [len]byte
package wire

import "fmt"

type Opcode byte

const (
	OpHello    Opcode = 0x01
	OpWelcome  Opcode = 0x02
	OpAddUsers Opcode = 0x10
	OpAddUser  Opcode = 0x11
	OpMessage  Opcode = 0x20
)

// MaxPayload bounds a message payload; larger length prefixes are treated
// as garbage so one bad byte cannot park the decoder forever.
const MaxPayload = 1 << 20

// MaxUsers bounds the count field of an addusers frame for the same reason.
const MaxUsers = 1 << 22

func (o Opcode) String() string {
	switch o {
	case OpHello:
		return "hello"
	case OpWelcome:
		return "welcome"
	case OpAddUsers:
		return "addusers"
	case OpAddUser:
		return "adduser"
	case OpMessage:
		return "message"
	}
	return fmt.Sprintf("opcode(0x%02x)", byte(o))
}

// Frame is one decoded unit of the internal protocol. Only the fields
// belonging to Op are meaningful.
type Frame struct {
	Op      Opcode
	Port    int32   // hello, welcome
	Users   []int32 // addusers
	User    int32   // adduser
	From    int32   // message
	To      int32   // message
	Payload []byte  // message
}

func Hello(port int32) Frame   { return Frame{Op: OpHello, Port: port} }
func Welcome(port int32) Frame { return Frame{Op: OpWelcome, Port: port} }
func AddUser(id int32) Frame   { return Frame{Op: OpAddUser, User: id} }

func AddUsers(ids []int32) Frame {
	return Frame{Op: OpAddUsers, Users: ids}
}

func Message(from, to int32, payload []byte) Frame {
	return Frame{Op: OpMessage, From: from, To: to, Payload: payload}
}

func (f Frame) String() string {
	switch f.Op {
	case OpHello, OpWelcome:
		return fmt.Sprintf("%s{port=%d}", f.Op, f.Port)
	case OpAddUsers:
		return fmt.Sprintf("%s{count=%d}", f.Op, len(f.Users))
	case OpAddUser:
		return fmt.Sprintf("%s{user=%d}", f.Op, f.User)
	case OpMessage:
		return fmt.Sprintf("%s{from=%d to=%d len=%d}", f.Op, f.From, f.To, len(f.Payload))
	}
	return f.Op.String()
}
