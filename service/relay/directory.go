package relay

import (
	"sort"
	"sync"
	"time"

	"MessageBox/logger"

	"go.uber.org/zap"
)

// User is a locally registered user id and its long-poll sessions.
type User struct {
	ID       UserID
	wire     int32
	indexed  bool // owns byWire[wire], i.e. is advertised to neighbours
	lastSeen time.Time
	holds    map[string]*Hold // session -> hold
	backlog  []Message        // messages that arrived before any hold existed
}

func (u *User) LastSeen() time.Time { return u.lastSeen }

// Directory owns the local user table, their holds and the remote user
// table. mu guards all of it plus the neighbour link table; every
// read-modify-write path in the relay takes it exactly once.
type Directory struct {
	mu  sync.Mutex
	now func() time.Time

	users  map[UserID]*User
	byWire map[int32]*User // wire id -> local user (advertised ones only)
	remote map[int32]*Link // wire id -> link serving that user
}

func NewDirectory(clock func() time.Time) *Directory {
	if clock == nil {
		clock = time.Now
	}
	return &Directory{
		now:    clock,
		users:  make(map[UserID]*User),
		byWire: make(map[int32]*User),
		remote: make(map[int32]*Link),
	}
}

// EnsureUser is get-or-create; created tells the caller to advertise the
// new user to the neighbours.
func (d *Directory) EnsureUser(id UserID) (*User, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ensureUserLocked(id)
}

func (d *Directory) ensureUserLocked(id UserID) (*User, bool) {
	now := d.now()
	if u, ok := d.users[id]; ok {
		u.lastSeen = now
		return u, false
	}
	u := &User{
		ID:       id,
		wire:     id.Wire(),
		lastSeen: now,
		holds:    make(map[string]*Hold),
	}
	d.users[id] = u
	if other, taken := d.byWire[u.wire]; taken {
		// hash collision between two local names, the newcomer stays local
		logger.Warn("[directory] wire id collision, user not advertised",
			zap.String("user", string(id)), zap.String("holder", string(other.ID)), zap.Int32("wire", u.wire))
	} else {
		d.byWire[u.wire] = u
		u.indexed = true
	}
	return u, true
}

// TouchUser refreshes lastSeen; no-op for unknown ids.
func (d *Directory) TouchUser(id UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		u.lastSeen = d.now()
	}
}

func (d *Directory) IsKnownLocally(id UserID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localLocked(id) != nil
}

// IsKnownRemotely returns the link serving id, or nil.
func (d *Directory) IsKnownRemotely(id UserID) *Link {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.remote[id.Wire()]
}

// localLocked resolves a name, falling back to the wire index for alias
// addresses.
func (d *Directory) localLocked(id UserID) *User {
	if u, ok := d.users[id]; ok {
		return u
	}
	if id.IsAlias() {
		return d.byWire[id.Wire()]
	}
	return nil
}

// ListLocalUserIDs returns the wire ids advertised to a joining neighbour.
func (d *Directory) ListLocalUserIDs() []int32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listWireLocked()
}

func (d *Directory) listWireLocked() []int32 {
	out := make([]int32, 0, len(d.byWire))
	for w := range d.byWire {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RemoveUser drops the user without replying to its holds; the reaper
// expires holds before calling this.
func (d *Directory) RemoveUser(id UserID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if u, ok := d.users[id]; ok {
		d.removeUserLocked(u)
	}
}

func (d *Directory) removeUserLocked(u *User) {
	delete(d.users, u.ID)
	if u.indexed && d.byWire[u.wire] == u {
		delete(d.byWire, u.wire)
	}
	u.holds = nil
	u.backlog = nil
}

func (d *Directory) setRemoteLocked(w int32, l *Link) {
	d.remote[w] = l
}

// RemoveRemoteEntriesFor drops every remote entry pointing at l and
// reports how many went away.
func (d *Directory) RemoveRemoteEntriesFor(l *Link) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeRemoteEntriesLocked(l)
}

func (d *Directory) removeRemoteEntriesLocked(l *Link) int {
	n := 0
	for w, owner := range d.remote {
		if owner == l {
			delete(d.remote, w)
			n++
		}
	}
	return n
}

// nameLocked resolves a wire id received from a neighbour.
func (d *Directory) nameLocked(w int32) UserID {
	if u, ok := d.byWire[w]; ok {
		return u.ID
	}
	return FromWire(w)
}

// Counts is a consistent snapshot of the table sizes.
type Counts struct {
	Users       int `json:"users"`
	Holds       int `json:"holds"`
	RemoteUsers int `json:"remoteUsers"`
}

func (d *Directory) Counts() Counts {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := Counts{Users: len(d.users), RemoteUsers: len(d.remote)}
	for _, u := range d.users {
		c.Holds += len(u.holds)
	}
	return c
}
