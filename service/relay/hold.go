package relay

import (
	"time"
)

// Hold is one long-poll session of a user.
type Hold struct {
	User     *User
	Session  string
	lastSeen time.Time
	pending  Responder
	queue    []Message
}

func (h *Hold) LastSeen() time.Time { return h.lastSeen }

// Queued returns a copy of the undelivered messages, oldest first.
func (h *Hold) Queued() []Message {
	return append([]Message(nil), h.queue...)
}

// HoldManager runs the queue/park/drain state of holds. Every method
// expects the directory lock; the exported entry points live on Service.
type HoldManager struct {
	dir     *Directory
	limit   int
	senders bool
	stats   *counters
}

func NewHoldManager(dir *Directory, multiDeliver int, senders bool, stats *counters) *HoldManager {
	if multiDeliver <= 0 {
		multiDeliver = 10
	}
	return &HoldManager{dir: dir, limit: multiDeliver, senders: senders, stats: stats}
}

// registerOrTouchLocked creates the hold on first sight, refreshing it
// otherwise. A new hold inherits the user's backlog.
func (hm *HoldManager) registerOrTouchLocked(u *User, session string) (*Hold, bool) {
	now := hm.dir.now()
	if h, ok := u.holds[session]; ok {
		h.lastSeen = now
		return h, false
	}
	h := &Hold{User: u, Session: session, lastSeen: now}
	if len(u.backlog) > 0 {
		h.queue = u.backlog
		u.backlog = nil
	}
	u.holds[session] = h
	return h, true
}

// parkLocked attaches r. A different responder already attached is
// released without a reply. Queued messages are drained at once.
func (hm *HoldManager) parkLocked(h *Hold, r Responder) {
	if prev := h.pending; prev != nil && prev != r {
		prev.Release()
	}
	h.pending = r
	hm.drainLocked(h)
}

// enqueueAndDrainLocked appends m and drains if a responder is parked.
func (hm *HoldManager) enqueueAndDrainLocked(h *Hold, m Message) {
	h.queue = append(h.queue, m)
	hm.drainLocked(h)
}

// drainLocked hands min(limit, len(queue)) messages to the parked
// responder as one reply. Messages only leave the queue when the
// responder accepted them.
func (hm *HoldManager) drainLocked(h *Hold) int {
	total := 0
	for h.pending != nil && len(h.queue) > 0 {
		n := len(h.queue)
		if n > hm.limit {
			n = hm.limit
		}
		batch := append([]Message(nil), h.queue[:n]...)
		r := h.pending
		if !r.Persistent() {
			h.pending = nil
		}
		if !r.Offer(batchReply(batch, hm.senders)) {
			h.pending = nil
			break
		}
		h.queue = h.queue[n:]
		if len(h.queue) == 0 {
			h.queue = nil
		}
		total += n
		if !r.Persistent() {
			break
		}
	}
	if total > 0 {
		hm.stats.delivered.Add(int64(total))
	}
	return total
}

// expireLocked completes a parked responder with {"status":"timeout"}.
// The caller removes the hold afterwards.
func (hm *HoldManager) expireLocked(h *Hold) bool {
	r := h.pending
	if r == nil {
		return false
	}
	h.pending = nil
	return r.Offer(timeoutReply())
}

// abandonLocked detaches r if it is still parked on h. Replies accepted
// but never written go back to the head of the queue.
func (hm *HoldManager) abandonLocked(h *Hold, r Responder) {
	if h.pending == r {
		h.pending = nil
	}
	unsent := r.Unsent()
	if len(unsent) == 0 {
		return
	}
	h.queue = append(append([]Message(nil), unsent...), h.queue...)
	hm.stats.delivered.Add(-int64(len(unsent)))
	hm.drainLocked(h)
}
