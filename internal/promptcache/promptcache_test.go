package promptcache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

func TestKey(t *testing.T) {
	key := Key(model.TypeConsoleError, "Console error: boom", "boom")
	parts := strings.Split(key, "::")
	if len(parts) != 3 {
		t.Fatalf("key %q must have three parts", key)
	}
	if parts[0] != "console-error" || parts[1] != "Console error: boom" {
		t.Errorf("key = %q", key)
	}
	if len(parts[2]) != 12 {
		t.Errorf("digest part = %q, want 12 hex chars", parts[2])
	}

	// Same input, same key; different details, different key.
	if Key(model.TypeConsoleError, "Console error: boom", "boom") != key {
		t.Error("key derivation must be deterministic")
	}
	if Key(model.TypeConsoleError, "Console error: boom", "other") == key {
		t.Error("different details must change the key")
	}
}

func TestOpenMissingFile(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "nope.json"), logging.NopLogger{})
	if err != nil {
		t.Fatalf("Open on missing file: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, got %d entries", c.Len())
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Open(path, logging.NopLogger{})
	if err != nil {
		t.Fatalf("Open on corrupt file must not error: %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("corrupt file must yield an empty cache, got %d entries", c.Len())
	}
}

func TestPutGetAndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	logger := logging.NopLogger{}

	c, err := Open(path, logger)
	if err != nil {
		t.Fatal(err)
	}

	key := Key(model.TypeBrokenLink, "Broken link: /missing", "http://x/missing: Returned 404")
	c.Put(key, "Fix the link.")

	if hint, ok := c.Get(key); !ok || hint != "Fix the link." {
		t.Fatalf("Get = %q, %v", hint, ok)
	}

	// Reopen: the write must have been persisted.
	c2, err := Open(path, logger)
	if err != nil {
		t.Fatal(err)
	}
	if hint, ok := c2.Get(key); !ok || hint != "Fix the link." {
		t.Fatalf("after reopen Get = %q, %v", hint, ok)
	}

	// The file is human-readable, indented JSON.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n  ") {
		t.Error("cache file should be indented")
	}
	if !strings.Contains(string(data), "createdAt") {
		t.Error("cache entries should carry createdAt")
	}
}

func TestPutLastWriterWins(t *testing.T) {
	c, err := Open(filepath.Join(t.TempDir(), "cache.json"), logging.NopLogger{})
	if err != nil {
		t.Fatal(err)
	}

	key := Key(model.TypeBrokenImage, "Broken image: hero", "Image failed to load: /hero.png")
	c.Put(key, "first")
	c.Put(key, "second")

	if hint, _ := c.Get(key); hint != "second" {
		t.Fatalf("Get = %q, want the last write", hint)
	}
}
