package store

import (
	"context"
	"time"

	"github.com/eldtechnologies/confide/internal/metrics"
	"github.com/eldtechnologies/confide/internal/models"
)

// Instrumented wraps a MessageStore and records latency and failures per operation.
type Instrumented struct {
	MessageStore
}

// NewInstrumented decorates s with Prometheus metrics.
func NewInstrumented(s MessageStore) *Instrumented {
	return &Instrumented{MessageStore: s}
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	driver := s.MessageStore.Driver()
	metrics.StoreOperationDuration.WithLabelValues(driver, op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.StoreErrors.WithLabelValues(driver, op).Inc()
	}
}

func (s *Instrumented) Insert(ctx context.Context, timestamp, text string) error {
	start := time.Now()
	err := s.MessageStore.Insert(ctx, timestamp, text)
	s.observe("insert", start, err)
	return err
}

func (s *Instrumented) FetchAll(ctx context.Context) ([]models.Message, error) {
	start := time.Now()
	messages, err := s.MessageStore.FetchAll(ctx)
	s.observe("fetch_all", start, err)
	return messages, err
}

func (s *Instrumented) Delete(ctx context.Context, id int64) error {
	start := time.Now()
	err := s.MessageStore.Delete(ctx, id)
	s.observe("delete", start, err)
	return err
}
