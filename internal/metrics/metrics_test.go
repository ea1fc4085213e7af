package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{429, "4xx"},
		{503, "5xx"},
		{0, "other"},
		{999, "other"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, ClassifyStatus(tt.code), "code %d", tt.code)
	}
}

func TestInitIsIdempotentAndObserversAreSafe(t *testing.T) {
	Init()
	Init()

	// Observers must not panic once initialized.
	JobFinished("completed", 2*time.Second)
	RecordProcessed("src-1")
	RecordFailed("src-1")
	IndexFailed("src-1")
	ObserveConnectorRequest(200)
	require.NotNil(t, Handler())
}
