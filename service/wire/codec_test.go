package wire

import (
	"bytes"
	"reflect"
	"testing"
)

func sampleFrames() []Frame {
	return []Frame{
		Hello(7001),
		Welcome(7002),
		AddUsers([]int32{1, 42, -5, 2147483647}),
		AddUsers([]int32{}),
		AddUser(-2147483648),
		Message(3, 4, []byte(`{"text":"hi"}`)),
		Message(3, 4, []byte{}),
	}
}

func framesEqual(a, b Frame) bool {
	if a.Op != b.Op || a.Port != b.Port || a.User != b.User || a.From != b.From || a.To != b.To {
		return false
	}
	if len(a.Users) != len(b.Users) || !bytes.Equal(a.Payload, b.Payload) {
		return false
	}
	for i := range a.Users {
		if a.Users[i] != b.Users[i] {
			return false
		}
	}
	return true
}

func TestRoundTrip(t *testing.T) {
	for _, f := range sampleFrames() {
		buf := Encode(f)
		got, n := Decode(buf)
		if n != len(buf) {
			t.Fatalf("%v: consumed %d of %d", f, n, len(buf))
		}
		if len(got) != 1 || !framesEqual(got[0], f) {
			t.Fatalf("%v: decoded %v", f, got)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	got := Encode(Message(1, 2, []byte("ab")))
	want := []byte{0x20, 0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 2, 'a', 'b'}
	if !bytes.Equal(got, want) {
		t.Fatalf("message layout = %v, want %v", got, want)
	}
	got = Encode(AddUsers([]int32{258}))
	want = []byte{0x10, 0, 0, 0, 1, 0, 0, 1, 2}
	if !bytes.Equal(got, want) {
		t.Fatalf("addusers layout = %v, want %v", got, want)
	}
	if got := Encode(Hello(8000)); !bytes.Equal(got, []byte{0x01, 0, 0, 0x1f, 0x40}) {
		t.Fatalf("hello layout = %v", got)
	}
}

func TestDecodeBackToBack(t *testing.T) {
	a := Hello(1)
	b := Message(9, 10, []byte(`"x"`))
	buf := append(Encode(a), Encode(b)...)
	got, n := Decode(buf)
	if n != len(buf) {
		t.Fatalf("consumed %d of %d", n, len(buf))
	}
	if len(got) != 2 || !framesEqual(got[0], a) || !framesEqual(got[1], b) {
		t.Fatalf("decoded %v", got)
	}
}

func TestDecodeTruncated(t *testing.T) {
	for _, f := range sampleFrames() {
		buf := Encode(f)
		for cut := 1; cut < len(buf); cut++ {
			got, n := Decode(buf[:cut])
			if len(got) != 0 || n != 0 {
				t.Fatalf("%v cut at %d: frames=%v consumed=%d", f, cut, got, n)
			}
		}
	}
}

func TestDecodeKeepsTrailingPartial(t *testing.T) {
	full := Encode(AddUser(5))
	next := Encode(Message(1, 2, []byte("hello")))
	buf := append(append([]byte{}, full...), next[:7]...)

	got, n := Decode(buf)
	if len(got) != 1 || got[0].User != 5 {
		t.Fatalf("decoded %v", got)
	}
	if n != len(full) {
		t.Fatalf("consumed %d, want %d", n, len(full))
	}

	rest := append(append([]byte{}, buf[n:]...), next[7:]...)
	got, n = Decode(rest)
	if len(got) != 1 || string(got[0].Payload) != "hello" || n != len(rest) {
		t.Fatalf("reassembled %v consumed %d", got, n)
	}
}

func TestDecodeSkipsUnknownOpcode(t *testing.T) {
	buf := append([]byte{0xff, 0x7e}, Encode(AddUser(77))...)
	got, n := Decode(buf)
	if n != len(buf) {
		t.Fatalf("consumed %d of %d", n, len(buf))
	}
	if len(got) != 1 || got[0].Op != OpAddUser || got[0].User != 77 {
		t.Fatalf("decoded %v", got)
	}
}

func TestDecodeRejectsHostileLength(t *testing.T) {
	bad := []byte{byte(OpMessage), 0, 0, 0, 1, 0, 0, 0, 2, 0x7f, 0xff, 0xff, 0xff}
	buf := append(bad, Encode(Welcome(3))...)
	got, _ := Decode(buf)
	if len(got) == 0 || !reflect.DeepEqual(got[len(got)-1], Welcome(3)) {
		t.Fatalf("expected decoder to resync onto welcome, got %v", got)
	}
}
