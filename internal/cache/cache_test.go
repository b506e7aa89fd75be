package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var ctx = context.Background()

func implementations(t *testing.T) map[string]Cache {
	t.Helper()

	mem := NewMemory(0)
	t.Cleanup(mem.Close)

	mr := miniredis.RunT(t)
	rds := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { rds.Close() })

	return map[string]Cache{"memory": mem, "redis": rds}
}

func TestGetSetDelete(t *testing.T) {
	for name, c := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := c.Get(ctx, "missing"); err != nil || ok {
				t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
			}

			if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}
			val, ok, err := c.Get(ctx, "k1")
			if err != nil || !ok {
				t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
			}
			if string(val) != "v1" {
				t.Fatalf("value = %q", val)
			}

			if err := c.Delete(ctx, "k1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := c.Get(ctx, "k1"); ok {
				t.Fatalf("expected miss after delete")
			}
		})
	}
}

func TestDeletePrefix(t *testing.T) {
	for name, c := range implementations(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 5; i++ {
				if err := c.Set(ctx, fmt.Sprintf("authz:decision:u1:%d", i), []byte("x"), time.Minute); err != nil {
					t.Fatalf("set: %v", err)
				}
			}
			if err := c.Set(ctx, "authz:decision:u2:0", []byte("x"), time.Minute); err != nil {
				t.Fatalf("set: %v", err)
			}

			if err := c.DeletePrefix(ctx, "authz:decision:u1:"); err != nil {
				t.Fatalf("delete prefix: %v", err)
			}
			for i := 0; i < 5; i++ {
				if _, ok, _ := c.Get(ctx, fmt.Sprintf("authz:decision:u1:%d", i)); ok {
					t.Fatalf("key %d survived prefix delete", i)
				}
			}
			if _, ok, _ := c.Get(ctx, "authz:decision:u2:0"); !ok {
				t.Fatalf("unrelated key was evicted")
			}
		})
	}
}

func TestMemoryExpiry(t *testing.T) {
	mem := NewMemory(0)
	defer mem.Close()

	if err := mem.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := mem.Get(ctx, "k"); !ok {
		t.Fatalf("expected hit before expiry")
	}
	time.Sleep(20 * time.Millisecond)
	if _, ok, _ := mem.Get(ctx, "k"); ok {
		t.Fatalf("expected miss after expiry")
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	mem := NewMemory(0)
	defer mem.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k:%d:%d", g, i%10)
				_ = mem.Set(ctx, key, []byte("v"), time.Minute)
				_, _, _ = mem.Get(ctx, key)
				if i%50 == 0 {
					_ = mem.DeletePrefix(ctx, fmt.Sprintf("k:%d:", g))
				}
			}
		}(g)
	}
	wg.Wait()
}
