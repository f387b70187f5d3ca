// Package auctionlock serializes mutations per auction id. Each auction gets
// its own section, created on first reference and retired once the auction is
// terminal; sections of different auctions never contend.
package auctionlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auction-engine/internal/biddingerrors"
)

// Sections is a registry of per-auction sections
type Sections struct {
	mu       sync.Mutex
	sections map[string]*section
}

// section is a one-slot semaphore. Waiters blocked on the channel send are
// queued by the runtime in arrival order.
type section struct {
	slot chan struct{}
}

// New creates an empty registry
func New() *Sections {
	return &Sections{sections: make(map[string]*section)}
}

func (s *Sections) get(auctionID string) *section {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.sections[auctionID]
	if !ok {
		sec = &section{slot: make(chan struct{}, 1)}
		s.sections[auctionID] = sec
	}
	return sec
}

// Acquire enters the section of auctionID. It gives up with ErrAuctionBusy
// once wait has elapsed, or with the context error if ctx ends first. The
// returned release func is safe to call more than once.
func (s *Sections) Acquire(ctx context.Context, auctionID string, wait time.Duration) (func(), error) {
	sec := s.get(auctionID)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case sec.slot <- struct{}{}:
	case <-timer.C:
		return nil, fmt.Errorf("acquire auction %s after %s: %w", auctionID, wait, biddingerrors.ErrAuctionBusy)
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire auction %s: %w", auctionID, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-sec.slot })
	}, nil
}

// Retire drops the section of a terminal auction. Callers still queued on the
// old section will find the auction terminal once they get in.
func (s *Sections) Retire(auctionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sections, auctionID)
}

// Len returns the number of live sections
func (s *Sections) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sections)
}
