package relay

import (
	"encoding/json"
	"testing"
)

func TestWireMapping(t *testing.T) {
	cases := []struct {
		id   UserID
		want int32
	}{
		{"0", 0},
		{"42", 42},
		{"2147483647", 2147483647},
		{"~8000002a", -2147483606},
	}
	for _, c := range cases {
		if got := c.id.Wire(); got != c.want {
			t.Errorf("%q.Wire() = %d, want %d", c.id, got, c.want)
		}
	}

	// not canonical decimals, so hashed into the negative half
	for _, id := range []UserID{"alice", "007", "2147483648", "-1", "~0000002a", "~8000002A"} {
		if w := id.Wire(); w >= 0 {
			t.Errorf("%q.Wire() = %d, want negative hash", id, w)
		}
	}
	if UserID("alice").Wire() != UserID("alice").Wire() {
		t.Fatal("hash must be stable")
	}
}

func TestFromWireRoundTrip(t *testing.T) {
	for _, w := range []int32{0, 17, 2147483647, -1, -2147483648, UserID("bob").Wire()} {
		id := FromWire(w)
		if got := id.Wire(); got != w {
			t.Errorf("FromWire(%d) = %q, maps back to %d", w, id, got)
		}
	}
	if !FromWire(-5).IsAlias() || FromWire(5).IsAlias() {
		t.Fatal("only negative ids render as aliases")
	}
}

func TestUserIDJSON(t *testing.T) {
	b, err := json.Marshal([]UserID{"12", "alice", `a"b`, "012"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `[12,"alice","a\"b","012"]` {
		t.Fatalf("json = %s", b)
	}
	var back []UserID
	if err := json.Unmarshal([]byte(`[12,"alice"]`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back) != 2 || back[0] != "12" || back[1] != "alice" {
		t.Fatalf("back = %v", back)
	}
}

func TestParseUserID(t *testing.T) {
	if _, ok := ParseUserID("   "); ok {
		t.Fatal("blank id accepted")
	}
	if id, ok := ParseUserID(" bob "); !ok || id != "bob" {
		t.Fatalf("got %q %v", id, ok)
	}
}

func TestNormalizeBody(t *testing.T) {
	cases := map[string]string{
		`{"a": 1}`: `{"a":1}`,
		`hello`:    `"hello"`,
		` 5 `:      `5`,
		``:         `""`,
		`{broken`:  `"{broken"`,
	}
	for in, want := range cases {
		if got := string(NormalizeBody([]byte(in))); got != want {
			t.Errorf("NormalizeBody(%q) = %s, want %s", in, got, want)
		}
	}
}
