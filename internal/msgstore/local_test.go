package msgstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
)

func TestLocalFileStore_PutAndGet(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	ctx := context.Background()
	data := []byte("hello, world")

	if err := store.Put(ctx, "batch-1/msg-001", data); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "batch-1/msg-001")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("Get = %q, want %q", got, data)
	}
}

func TestLocalFileStore_GetNotFound(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	_, err = store.Get(context.Background(), "batch-1/nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get non-existent: got err=%v, want ErrNotFound", err)
	}
}

func TestLocalFileStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	err = store.Put(context.Background(), "../outside", []byte("x"))
	if !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Put traversal key: got err=%v, want ErrInvalidKey", err)
	}
}

func TestLocalFileStore_DeleteIdempotent(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	ctx := context.Background()
	if err := store.Put(ctx, "b/msg-del", []byte("bye")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Delete(ctx, "b/msg-del"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, "b/msg-del"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: got err=%v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "b/msg-del"); err != nil {
		t.Errorf("second Delete: got err=%v, want nil", err)
	}
}

func TestLocalFileStore_ListSkipsTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalFileStore(dir)
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	ctx := context.Background()
	for _, k := range []string{"b1/x", "b1/y", "b2/z"} {
		if err := store.Put(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}
	// Simulate a crash between CreateTemp and Rename.
	if err := os.WriteFile(filepath.Join(dir, "b1", tmpPrefix+"x-123"), []byte("partial"), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}

	keys, err := store.List(ctx, "b1/")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 || keys[0] != "b1/x" || keys[1] != "b1/y" {
		t.Errorf("List(b1/) = %v, want [b1/x b1/y]", keys)
	}
}

func TestLocalFileStore_ConcurrentAccess(t *testing.T) {
	store, err := NewLocalFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalFileStore: %v", err)
	}

	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := "batch/msg-" + strconv.Itoa(id)
			if err := store.Put(ctx, key, []byte("data-"+strconv.Itoa(id))); err != nil {
				t.Errorf("concurrent Put(%s): %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := "batch/msg-" + strconv.Itoa(id)
			got, err := store.Get(ctx, key)
			if err != nil {
				t.Errorf("concurrent Get(%s): %v", key, err)
				return
			}
			if want := "data-" + strconv.Itoa(id); string(got) != want {
				t.Errorf("concurrent Get(%s) = %q, want %q", key, got, want)
			}
		}(i)
	}
	wg.Wait()
}
