package blob

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
)

func TestOpen_DefaultsToFilesystem(t *testing.T) {
	root := filepath.Join(t.TempDir(), "blobs")
	store, err := Open(context.Background(), Settings{FSRoot: root})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected fs driver, got %s", store.Driver())
	}
	if _, err := store.Put(context.Background(), "archive/items/1-5.ndjson", bytes.NewReader([]byte("{}\n")), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
}

func TestOpen_MemoryDriver(t *testing.T) {
	store, err := Open(context.Background(), Settings{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("expected memory driver, got %s", store.Driver())
	}
}

func TestOpen_EnvOverridesSettings(t *testing.T) {
	t.Setenv("DBKIT_BLOB_DRIVER", "memory")
	store, err := Open(context.Background(), Settings{Driver: DriverFilesystem, FSRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if store.Driver() != DriverMemory {
		t.Fatalf("env override ignored, got %s", store.Driver())
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Settings{Driver: "tape"}); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
