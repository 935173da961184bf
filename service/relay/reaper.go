package relay

import (
	"context"
	"time"
)

// Reaper expires idle users and holds on a fixed interval.
type Reaper struct {
	dir     *Directory
	holds   *HoldManager
	obs     Observer
	every   time.Duration
	userTTL time.Duration
	holdTTL time.Duration
}

func NewReaper(dir *Directory, holds *HoldManager, obs Observer, every, userTTL, holdTTL time.Duration) *Reaper {
	return &Reaper{dir: dir, holds: holds, obs: obs, every: every, userTTL: userTTL, holdTTL: holdTTL}
}

// Run sweeps every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	t := time.NewTicker(r.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep(r.dir.now())
		}
	}
}

// Sweep runs one pass: a user idle beyond userTTL loses every hold (parked
// ones get a timeout reply) and is removed; otherwise each hold idle
// beyond holdTTL is expired and removed.
func (r *Reaper) Sweep(now time.Time) SweepStats {
	st := SweepStats{At: now}
	var removed []UserID

	r.dir.mu.Lock()
	for id, u := range r.dir.users {
		if now.Sub(u.lastSeen) > r.userTTL {
			for _, h := range u.holds {
				if r.holds.expireLocked(h) {
					st.TimeoutReplies++
				}
				st.ExpiredHolds++
			}
			r.dir.removeUserLocked(u)
			removed = append(removed, id)
			st.ExpiredUsers++
			continue
		}
		for session, h := range u.holds {
			if now.Sub(h.lastSeen) > r.holdTTL {
				if r.holds.expireLocked(h) {
					st.TimeoutReplies++
				}
				delete(u.holds, session)
				st.ExpiredHolds++
			}
		}
	}
	st.Users = len(r.dir.users)
	for _, u := range r.dir.users {
		st.Holds += len(u.holds)
	}
	r.dir.mu.Unlock()

	for _, id := range removed {
		r.obs.UserRemoved(id)
	}
	r.obs.Swept(st)
	return st
}
