package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, "k", []byte(`{"a":1}`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	b, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(b) != `{"a":1}` {
		t.Fatalf("unexpected value %s", b)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	fs, err := OpenFileStore(filepath.Join(t.TempDir(), "nested", "store.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	exerciseStore(t, fs)
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()

	fs, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := SetJSON(ctx, fs, "queue", []string{"a", "b"}); err != nil {
		t.Fatalf("set: %v", err)
	}

	reopened, err := OpenFileStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	var got []string
	ok, err := GetJSON(ctx, reopened, "queue", &got)
	if err != nil || !ok {
		t.Fatalf("get after reopen: ok=%v err=%v", ok, err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected value after reopen: %v", got)
	}
}

func TestFileStoreRejectsNonJSON(t *testing.T) {
	fs, err := OpenFileStore(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := fs.Set(context.Background(), "k", []byte("not json")); err == nil {
		t.Fatalf("expected error for non-JSON value")
	}
}

func TestFileStoreDeleteKeepsKeyWhenFlushFails(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "data")
	fs, err := OpenFileStore(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := fs.Set(ctx, "k", []byte(`"v"`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("remove dir: %v", err)
	}
	if err := fs.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected delete to fail without its directory")
	}
	if v, err := fs.Get(ctx, "k"); err != nil || string(v) != `"v"` {
		t.Fatalf("failed delete must keep the key, got %q %v", v, err)
	}
}

func TestPrefixedStoreNamespacesKeys(t *testing.T) {
	mem := NewMemoryStore()
	p := Prefixed{Store: mem, Prefix: "device1:"}
	ctx := context.Background()
	if err := p.Set(ctx, "k", []byte(`1`)); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := mem.Get(ctx, "device1:k"); err != nil {
		t.Fatalf("expected prefixed key in underlying store: %v", err)
	}
	if _, err := mem.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unprefixed key must not exist")
	}
}

func TestGetJSONAbsentKey(t *testing.T) {
	var v map[string]int
	ok, err := GetJSON(context.Background(), NewMemoryStore(), "nope", &v)
	if err != nil || ok {
		t.Fatalf("expected absent without error, got ok=%v err=%v", ok, err)
	}
}

func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("PUNCHCLOCK_REDIS_ADDR_INTEGRATION")
	if addr == "" {
		t.Skip("set PUNCHCLOCK_REDIS_ADDR_INTEGRATION to run Redis integration tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	prefix := "punchclock:test:" + time.Now().Format("150405.000000") + ":"
	exerciseStore(t, Prefixed{Store: NewRedisStore(client), Prefix: prefix})
}
