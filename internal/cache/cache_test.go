package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/zulandar/otyard/internal/config"
)

func TestMemory_GetSet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, ok, err := m.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("Get missing = %v, %v", ok, err)
	}
	if err := m.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := m.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Errorf("Get = %q, %v, %v", got, ok, err)
	}
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	m.Set(ctx, "k", []byte("v"), 10*time.Second)
	now = now.Add(9 * time.Second)
	if _, ok, _ := m.Get(ctx, "k"); !ok {
		t.Error("entry expired early")
	}
	now = now.Add(time.Second)
	if _, ok, _ := m.Get(ctx, "k"); ok {
		t.Error("entry should have expired")
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d, want expired entry dropped", m.Len())
	}
}

func TestMemory_CopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	v := []byte("abc")
	m.Set(ctx, "k", v, 0)
	v[0] = 'x'

	got, _, _ := m.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("stored value changed to %q", got)
	}
}

func TestMemory_DeletePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set(ctx, "dispatcher:1:all", []byte("a"), 0)
	m.Set(ctx, "dispatcher:1:7", []byte("b"), 0)
	m.Set(ctx, "dispatcher:2:all", []byte("c"), 0)

	if err := m.DeletePrefix(ctx, "dispatcher:1:"); err != nil {
		t.Fatalf("DeletePrefix: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d, want 1", m.Len())
	}
	if _, ok, _ := m.Get(ctx, "dispatcher:2:all"); !ok {
		t.Error("other company entry should survive")
	}
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedis(ctx, config.RedisConfig{Host: "127.0.0.1", Port: 1})
	if err == nil {
		t.Fatal("expected error connecting to a closed port")
	}
}

func TestRedis_WrapsClient(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})
	r := NewRedisClient(client)
	if err := r.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
