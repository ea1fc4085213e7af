package catalog

import (
	"context"
	"sync"
)

// RecordStream is a single-pass, lazily produced sequence of raw records. A
// producer goroutine feeds the bounded channel via Send and terminates the
// stream with CloseWithError; the consumer pulls with Next until it returns
// false, then inspects Err for the end-of-catalog outcome.
type RecordStream struct {
	records chan RawRecord
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// NewRecordStream builds a stream with the given channel capacity.
func NewRecordStream(buffer int) *RecordStream {
	if buffer <= 0 {
		buffer = 16
	}
	return &RecordStream{
		records: make(chan RawRecord, buffer),
		done:    make(chan struct{}),
	}
}

// Send delivers one record to the consumer. It returns false when the stream
// is already closed or the context finishes, letting producers stop early.
func (s *RecordStream) Send(ctx context.Context, record RawRecord) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.records <- record:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// CloseWithError terminates the stream. A nil error means the connector
// exhausted the catalog normally. Safe to call once from the producer.
func (s *RecordStream) CloseWithError(err error) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		return
	default:
	}
	s.err = err
	close(s.done)
	s.mu.Unlock()
}

// Stop abandons the stream from the consumer side so a blocked producer can
// exit. A no-op once the producer has closed the stream.
func (s *RecordStream) Stop() {
	s.CloseWithError(nil)
}

// Next pulls the next record. ok is false once the stream is exhausted or the
// context finishes; buffered records are drained before the stream reports
// closure.
func (s *RecordStream) Next(ctx context.Context) (record RawRecord, ok bool) {
	select {
	case record = <-s.records:
		return record, true
	default:
	}
	select {
	case record = <-s.records:
		return record, true
	case <-s.done:
		// Drain anything the producer buffered before closing.
		select {
		case record = <-s.records:
			return record, true
		default:
			return RawRecord{}, false
		}
	case <-ctx.Done():
		return RawRecord{}, false
	}
}

// Err reports the terminal error, valid once Next has returned false.
func (s *RecordStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
