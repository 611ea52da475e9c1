package server

import (
	"context"
	"testing"
	"time"
)

func BenchmarkSerialCall(b *testing.B) {
	s := newCalcServer(b)
	b.Cleanup(func() { s.Shutdown(3 * time.Second) })
	c := openClient(b, startWS(b, s))
	ctx := context.Background()
	operands := []uint64{1, 2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Sum(ctx, operands); err != nil {
			b.Fatal(err)
		}
	}
}

// Many goroutines share one connection; their responses interleave.
func BenchmarkParallelCall(b *testing.B) {
	s := newCalcServer(b)
	b.Cleanup(func() { s.Shutdown(3 * time.Second) })
	c := openClient(b, startWS(b, s))
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		operands := []uint64{1, 2}
		for pb.Next() {
			if _, err := c.Sum(ctx, operands); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
