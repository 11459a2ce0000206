package redis_infra

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func TestTokenCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := NewClient(Config{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	if err := Ping(ctx, client); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	cache := NewTokenCache(client, "fundiconnect:tokens:")
	if _, ok, err := cache.Get(ctx, "mpesa"); err != nil || ok {
		t.Fatalf("Get() on empty cache = %v, %v", ok, err)
	}

	if err := cache.Set(ctx, "mpesa", "tok-123", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok, err := cache.Get(ctx, "mpesa")
	if err != nil || !ok || got != "tok-123" {
		t.Fatalf("Get() = %q, %v, %v", got, ok, err)
	}
	if !mr.Exists("fundiconnect:tokens:mpesa") {
		t.Fatal("token should be stored under the prefixed key")
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := cache.Get(ctx, "mpesa"); ok {
		t.Fatal("token should expire with its ttl")
	}
}
