package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openshelf/catalogd/internal/catalog"
)

func contextWithShortTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 2*time.Second)
}

// drainStream collects every record from the stream and fails the test on a
// producer error.
func drainStream(t *testing.T, stream *catalog.RecordStream) []catalog.RawRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var records []catalog.RawRecord
	for {
		record, ok := stream.Next(ctx)
		if !ok {
			break
		}
		records = append(records, record)
	}
	require.NoError(t, stream.Err())
	return records
}
