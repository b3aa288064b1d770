package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/slot"
	"github.com/hackgods/clinic-scheduling/internal/treatment"
)

type Treatments struct {
	mu    sync.RWMutex
	rows  []treatment.Entry
	clock clock.Clock
}

func NewTreatments(clk clock.Clock) *Treatments {
	return &Treatments{clock: clk}
}

func (s *Treatments) ListOnOrBefore(_ context.Context, cutoff time.Time) ([]treatment.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff = slot.DateOf(cutoff)
	var out []treatment.Entry
	for _, e := range s.rows {
		if !e.Date.After(cutoff) {
			out = append(out, e)
		}
	}
	slices.SortStableFunc(out, func(a, b treatment.Entry) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *Treatments) Record(_ context.Context, e treatment.Entry) (*treatment.Entry, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Date = slot.DateOf(e.Date)
	e.CreatedAt = s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, e)
	return &e, nil
}
