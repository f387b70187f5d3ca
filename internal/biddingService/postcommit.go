package bidding

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// outbox keeps the post-commit work of each auction in commit order. A ticket
// is taken while the auction's section is still held, so tickets follow the
// commits; deliver waits until every earlier ticket of the same auction has
// been delivered.
type outbox struct {
	mu    sync.Mutex
	tails map[string]chan struct{}
}

type ticket struct {
	auctionID string
	prev      <-chan struct{}
	done      chan struct{}
}

func newOutbox() *outbox {
	return &outbox{tails: make(map[string]chan struct{})}
}

func (o *outbox) take(auctionID string) ticket {
	o.mu.Lock()
	defer o.mu.Unlock()

	t := ticket{auctionID: auctionID, done: make(chan struct{})}
	if prev, ok := o.tails[auctionID]; ok {
		t.prev = prev
	}
	o.tails[auctionID] = t.done
	return t
}

// deliver runs work once the previous ticket of the auction is delivered.
// Every ticket taken must be delivered exactly once.
func (o *outbox) deliver(t ticket, work func()) {
	if t.prev != nil {
		<-t.prev
	}
	defer func() {
		close(t.done)

		o.mu.Lock()
		if o.tails[t.auctionID] == t.done {
			delete(o.tails, t.auctionID)
		}
		o.mu.Unlock()
	}()
	work()
}

// pending returns the number of auctions with undelivered tickets
func (o *outbox) pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tails)
}

// viewGenerations counts commits per stripe of auction ids. A cache fill
// compares the count before and after its read to notice a commit that
// landed in between; ids sharing a stripe only cost a skipped fill.
type viewGenerations [64]atomic.Uint64

func (g *viewGenerations) of(auctionID string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(auctionID))
	return &g[h.Sum32()%uint32(len(g))]
}
