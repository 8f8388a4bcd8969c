package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Sink is a durable destination for audit entries. Sinks receive redacted
// copies: every sink is outside the trust boundary of the in-memory log.
type Sink interface {
	Name() string
	Write(ctx context.Context, e Entry) error
	Close() error
}

// sinkDispatcher moves sink writes off the hot path. Failures are logged
// locally, never dropped silently and never surfaced to the recording caller.
type sinkDispatcher struct {
	sinks  []Sink
	queue  chan Entry
	done   chan struct{}
	wg     sync.WaitGroup
	logger *slog.Logger
}

const sinkQueueDepth = 4096

func newSinkDispatcher(sinks []Sink) *sinkDispatcher {
	d := &sinkDispatcher{
		sinks:  sinks,
		queue:  make(chan Entry, sinkQueueDepth),
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "audit-sinks"),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *sinkDispatcher) enqueue(e Entry) {
	select {
	case d.queue <- e:
	default:
		d.logger.Error("sink queue full, entry not persisted to sinks",
			"sequence", e.Sequence, "id", e.ID)
	}
}

func (d *sinkDispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		case <-d.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case e := <-d.queue:
					d.deliver(e)
				default:
					return
				}
			}
		}
	}
}

func (d *sinkDispatcher) deliver(e Entry) {
	redacted := Redacted(e)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range d.sinks {
		if err := s.Write(ctx, redacted); err != nil {
			d.logger.Error("sink write failed",
				"sink", s.Name(), "sequence", e.Sequence, "error", err)
		}
	}
}

func (d *sinkDispatcher) close() error {
	close(d.done)
	d.wg.Wait()
	var firstErr error
	for _, s := range d.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// JSONLSink appends one JSON object per line to a local file.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLSink opens (or creates) the file in append mode.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open jsonl sink: %w", err)
	}
	return &JSONLSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Write(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(toExport(e)); err != nil {
		return fmt.Errorf("audit: jsonl write: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
