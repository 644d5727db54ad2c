package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestRunVisitsEveryItem(t *testing.T) {
	items := make([]int, 200)
	for i := range items {
		items[i] = i
	}

	var sum int64
	Run(context.Background(), items, 8, func(_ context.Context, item int) {
		atomic.AddInt64(&sum, int64(item))
	})

	var want int64
	for _, v := range items {
		want += int64(v)
	}
	if sum != want {
		t.Fatalf("sum = %d, want %d", sum, want)
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	items := make([]int, 50)
	var cur, max int64
	Run(context.Background(), items, 4, func(_ context.Context, _ int) {
		n := atomic.AddInt64(&cur, 1)
		for {
			m := atomic.LoadInt64(&max)
			if n <= m || atomic.CompareAndSwapInt64(&max, m, n) {
				break
			}
		}
		atomic.AddInt64(&cur, -1)
	})
	if max > 4 {
		t.Fatalf("observed concurrency %d, want <= 4", max)
	}
}
