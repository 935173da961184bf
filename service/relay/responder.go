package relay

import (
	"context"
	"sync"
)

// Responder is the response slot a Hold parks. Offer and Release are called
// with the directory lock held and must never block.
type Responder interface {
	// Offer hands over a reply. false means the responder cannot take it,
	// the hold then keeps its messages.
	Offer(Reply) bool
	// Release ends a superseded wait without a reply.
	Release()
	// Persistent responders stay attached after a reply (WebSocket).
	Persistent() bool
	// Unsent returns the messages of replies accepted but never written
	// to the client. The responder takes no further offers afterwards.
	Unsent() []Message
}

// Poll is the responder of one HTTP long-poll request.
type Poll struct {
	ch       chan Reply
	released chan struct{}
	once     sync.Once
}

func NewPoll() *Poll {
	return &Poll{
		ch:       make(chan Reply, 1),
		released: make(chan struct{}),
	}
}

func (p *Poll) Offer(r Reply) bool {
	select {
	case p.ch <- r:
		return true
	default:
		return false
	}
}

func (p *Poll) Release() {
	p.once.Do(func() { close(p.released) })
}

func (p *Poll) Persistent() bool { return false }

func (p *Poll) Unsent() []Message {
	if r, ok := p.take(); ok {
		return r.batch
	}
	return nil
}

type WaitResult int

const (
	Replied  WaitResult = iota
	Released            // replaced by a newer receive on the same session
	Canceled            // client went away, caller must Abandon
)

// Wait blocks until the poll is completed, released or ctx is done.
func (p *Poll) Wait(ctx context.Context) (Reply, WaitResult) {
	select {
	case r := <-p.ch:
		return r, Replied
	case <-p.released:
		return Reply{}, Released
	case <-ctx.Done():
		return Reply{}, Canceled
	}
}

// take returns a reply that was offered but never picked up.
func (p *Poll) take() (Reply, bool) {
	select {
	case r := <-p.ch:
		return r, true
	default:
		return Reply{}, false
	}
}
