package memory

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func BenchmarkMemoryStore_SetWithTTL(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = store.SetWithTTL(ctx, fmt.Sprintf("mailtoken:test%d@mail.tm", i), "token", time.Hour)
	}
}

func BenchmarkMemoryStore_Get(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		_ = store.SetWithTTL(ctx, fmt.Sprintf("mailtoken:test%d@mail.tm", i), "token", time.Hour)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = store.Get(ctx, fmt.Sprintf("mailtoken:test%d@mail.tm", i%1000))
	}
}

func BenchmarkMemoryStore_ConcurrentIncr(b *testing.B) {
	store := NewStore()
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			_, _ = store.Incr(ctx, fmt.Sprintf("free_count:%d:2026-03-01", i%100))
			i++
		}
	})
}
