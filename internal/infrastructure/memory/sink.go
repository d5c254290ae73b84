package memory

import (
	"context"
	"sync"

	"github.com/Fatonxhema/cdc-relay/internal/domain/cdc"
)

// Sink records confirmed publications. Fail, when set, decides per call
// whether the publish is rejected.
type Sink struct {
	mu        sync.Mutex
	published []cdc.Publication
	attempts  int

	Fail func(p cdc.Publication, attempt int) error
}

func NewSink() *Sink {
	return &Sink{}
}

func (s *Sink) Publish(ctx context.Context, p cdc.Publication) error {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	fail := s.Fail
	s.mu.Unlock()

	if fail != nil {
		if err := fail(p, attempt); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.published = append(s.published, p)
	s.mu.Unlock()
	return nil
}

// Published returns the confirmed publications in order.
func (s *Sink) Published() []cdc.Publication {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cdc.Publication(nil), s.published...)
}

// Attempts counts every Publish call, including rejected ones.
func (s *Sink) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}
