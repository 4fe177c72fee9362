package localsource

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shadowfs/shadowfs/internal/circuit"
	shadowpath "github.com/shadowfs/shadowfs/internal/path"
	"github.com/shadowfs/shadowfs/pkg/retry"
)

func mustPath(t *testing.T, raw string) shadowpath.ShadowPath {
	t.Helper()
	p, err := shadowpath.New(raw)
	if err != nil {
		t.Fatalf("path.New(%q): %v", raw, err)
	}
	return p
}

func TestSourceRead(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := src.SourceRead(mustPath(t, "/a.txt"), 6, 5)
	if err != nil {
		t.Fatalf("SourceRead: %v", err)
	}
	if string(data) != "world" {
		t.Errorf("SourceRead = %q, want %q", data, "world")
	}
}

func TestSourceRead_MissingFile(t *testing.T) {
	dir := t.TempDir()
	src, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := src.SourceRead(mustPath(t, "/missing.txt"), 0, 10); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSourceList(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "f1.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	src, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	entries, err := src.SourceList(mustPath(t, "/"))
	if err != nil {
		t.Fatalf("SourceList: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(entries))
	}

	found := map[string]bool{}
	for _, e := range entries {
		found[e.Name] = true
		if e.Name == "sub" && e.Metadata.Type != shadowpath.TypeDirectory {
			t.Errorf("sub should be a directory")
		}
	}
	if !found["f1.txt"] || !found["sub"] {
		t.Errorf("entries = %+v, missing expected names", entries)
	}
}

func TestSourceMetadata_Directory(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	src, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	meta, err := src.SourceMetadata(mustPath(t, "/sub"))
	if err != nil {
		t.Fatalf("SourceMetadata: %v", err)
	}
	if meta.Type != shadowpath.TypeDirectory {
		t.Errorf("Type = %v, want directory", meta.Type)
	}
}

func TestSource_TraversalSegmentsAreClampedToRoot(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// ShadowPath normalization already pops ".." within the mount root, so
	// this resolves to /secret.txt rather than anything outside dir.
	meta, err := src.SourceMetadata(mustPath(t, "/../../secret.txt"))
	if err != nil {
		t.Fatalf("SourceMetadata: %v", err)
	}
	if meta.Type != shadowpath.TypeFile {
		t.Errorf("Type = %v, want file", meta.Type)
	}
}

func TestSource_BreakerTripsAfterRepeatedFailures(t *testing.T) {
	dir := t.TempDir()

	breaker := circuit.NewCircuitBreaker("localsource-test", circuit.Config{
		MaxRequests: 1,
		Interval:    0,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts circuit.Counts) bool {
			return counts.ConsecutiveFailures >= 2
		},
	})

	src, err := NewWithBreaker(dir, breaker)
	if err != nil {
		t.Fatalf("NewWithBreaker: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := src.SourceRead(mustPath(t, "/missing.txt"), 0, 1); err == nil {
			t.Fatalf("expected error reading missing file on attempt %d", i)
		}
	}

	if breaker.GetState() != circuit.StateOpen {
		t.Fatalf("breaker state = %v, want StateOpen after repeated failures", breaker.GetState())
	}

	if _, err := src.SourceRead(mustPath(t, "/missing.txt"), 0, 1); err == nil {
		t.Fatal("expected breaker to reject request while open")
	}
}

func TestSource_RetriesTransientPlatformErrors(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = 3
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	var retries int
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) { retries++ }

	src, err := NewWithOptions(dir, nil, retry.New(cfg))
	if err != nil {
		t.Fatalf("NewWithOptions: %v", err)
	}

	// Reading a directory as a file is a transient-looking OS-level read
	// error (EISDIR), not a not-found error, so it is wrapped as a
	// PlatformError and retried rather than passed straight through.
	if _, err := src.SourceRead(mustPath(t, "/sub"), 0, 1); err == nil {
		t.Fatal("expected an error reading a directory as a file")
	}
	if retries == 0 {
		t.Fatal("expected the retryer to retry the platform error at least once")
	}
}

func TestSource_BreakerNilIsNoOp(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src, err := NewWithBreaker(dir, nil)
	if err != nil {
		t.Fatalf("NewWithBreaker: %v", err)
	}

	data, err := src.SourceRead(mustPath(t, "/a.txt"), 0, 5)
	if err != nil {
		t.Fatalf("SourceRead: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("SourceRead = %q, want %q", data, "hello")
	}
}
