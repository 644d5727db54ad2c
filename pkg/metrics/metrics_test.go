package metrics

import (
	"testing"
	"time"
)

func TestTimerObserveDurationVec(t *testing.T) {
	timer := NewTimer()
	time.Sleep(time.Millisecond)
	timer.ObserveDurationVec(CatalogFetchDuration, "nodes", "ok")

	if d := timer.Duration(); d <= 0 {
		t.Fatalf("Duration() = %v, want > 0", d)
	}
}
