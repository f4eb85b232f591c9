package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relaywing/relaywing/internal/ledger"
)

// Store wraps a ledger.Store with asynchronous batch writes so the request
// path never waits on the database. Entries still buffered at crash time are
// lost; the ledger is accounting, not billing.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	wg            sync.WaitGroup
	stopChan      chan struct{}
	logger        *log.Logger
}

// Config configures the async writer.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	ChannelBuffer int
	Logger        *log.Logger
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		stopChan:      make(chan struct{}),
		logger:        cfg.Logger,
	}
	s.wg.Add(1)
	go s.batchWriter()
	return s
}

func (s *Store) batchWriter() {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx := context.Background()
		for _, entry := range batch {
			if err := s.underlying.Record(ctx, entry); err != nil && s.logger != nil {
				s.logger.Printf("[WARN] ledger write failed: %v", err)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-s.entryChan:
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.stopChan:
			close(s.entryChan)
			for entry := range s.entryChan {
				batch = append(batch, entry)
				if len(batch) >= s.batchSize {
					flush()
				}
			}
			flush()
			return
		}
	}
}

// Record queues an entry without blocking. A full buffer drops the entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	select {
	case s.entryChan <- entry:
	default:
		if s.logger != nil {
			s.logger.Printf("[WARN] ledger buffer full, dropping entry for model %s", entry.Model)
		}
	}
	return nil
}

// Summary delegates to the underlying store.
func (s *Store) Summary(ctx context.Context, since time.Time) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, since)
}

// SummaryByModel delegates to the underlying store.
func (s *Store) SummaryByModel(ctx context.Context, since time.Time) ([]ledger.ModelSummary, error) {
	return s.underlying.SummaryByModel(ctx, since)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, limit)
}

// Close flushes remaining entries and closes the underlying store.
func (s *Store) Close() error {
	close(s.stopChan)
	s.wg.Wait()
	return s.underlying.Close()
}
