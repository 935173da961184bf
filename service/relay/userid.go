package relay

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// UserID is the canonical in-process user id. The internal link only
// carries int32 ids, see Wire for the mapping.
type UserID string

const aliasPrefix = "~"

// ParseUserID validates an id coming from HTTP. Surrounding blanks are
// dropped; an empty id is rejected.
func ParseUserID(s string) (UserID, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	return UserID(s), true
}

// Wire maps the id onto the int32 space of the internal protocol:
//
//	"123"        -> 123 (canonical decimal in [0, MaxInt32])
//	"~8000002a"  -> int32(0x8000002a) (alias of a remote id)
//	anything else -> FNV-1a-32 with the high bit set
//
// Numeric ids never collide. Hashed ids are consistent on every instance.
func (u UserID) Wire() int32 {
	if n, ok := u.numeric(); ok {
		return n
	}
	if w, ok := u.alias(); ok {
		return w
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(u))
	return int32(h.Sum32() | 0x80000000)
}

// FromWire renders a wire id whose name is unknown locally. Alias ids are
// accepted back by Wire, so the rendering is a usable address.
func FromWire(w int32) UserID {
	if w >= 0 {
		return UserID(strconv.FormatInt(int64(w), 10))
	}
	return UserID(fmt.Sprintf("%s%08x", aliasPrefix, uint32(w)))
}

// IsAlias reports whether u is the rendering of an unnamed remote id.
func (u UserID) IsAlias() bool {
	_, ok := u.alias()
	return ok
}

func (u UserID) numeric() (int32, bool) {
	s := string(u)
	if s == "" || len(s) > 10 {
		return 0, false
	}
	if len(s) > 1 && s[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(n), true
}

func (u UserID) alias() (int32, bool) {
	s := string(u)
	if len(s) != len(aliasPrefix)+8 || !strings.HasPrefix(s, aliasPrefix) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[len(aliasPrefix):], 16, 32)
	if err != nil || v&0x80000000 == 0 || strings.ToLower(s) != s {
		return 0, false
	}
	return int32(uint32(v)), true
}

// MarshalJSON writes canonical numeric ids as JSON numbers, which the
// receiver page expects, and everything else as strings.
func (u UserID) MarshalJSON() ([]byte, error) {
	if _, ok := u.numeric(); ok {
		return []byte(u), nil
	}
	return json.Marshal(string(u))
}

// UnmarshalJSON accepts both numbers and strings.
func (u *UserID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*u = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*u = UserID(v)
		return nil
	}
	if _, err := strconv.ParseFloat(s, 64); err != nil {
		return fmt.Errorf("user id must be a string or number: %s", s)
	}
	*u = UserID(s)
	return nil
}
