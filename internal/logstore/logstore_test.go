package logstore

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestStores_PutGet(t *testing.T) {
	fileStore, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			runID := uuid.New()

			ref, err := store.Put(ctx, runID, "build", []byte("step 1/3\nok\n"))
			if err != nil {
				t.Fatalf("Put failed: %v", err)
			}
			if ref != Ref(runID, "build") {
				t.Errorf("unexpected ref %q", ref)
			}

			data, err := store.Get(ctx, ref)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if string(data) != "step 1/3\nok\n" {
				t.Errorf("unexpected data %q", data)
			}

			if _, err := store.Get(ctx, Ref(runID, "missing")); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestParseRef(t *testing.T) {
	id := uuid.New()

	runID, task, err := ParseRef(Ref(id, "deploy-prod"))
	if err != nil {
		t.Fatalf("ParseRef failed: %v", err)
	}
	if runID != id || task != "deploy-prod" {
		t.Errorf("unexpected parse result %s %s", runID, task)
	}

	for _, bad := range []string{"", "nouuid/task", id.String() + "/"} {
		if _, _, err := ParseRef(bad); !errors.Is(err, ErrNotFound) {
			t.Errorf("ParseRef(%q): expected ErrNotFound, got %v", bad, err)
		}
	}
}
