package arena

import (
	"bytes"
	"testing"
)

func newTestArena(t *testing.T) *Arena {
	t.Helper()
	a, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

// I6 / L-dedup: store(bytes); store(bytes) yields the same hash and a
// single backing buffer.
func TestStore_Dedup(t *testing.T) {
	a := newTestArena(t)

	h1, handle1, err := a.Store([]byte("xxxx"))
	if err != nil {
		t.Fatal(err)
	}
	h2, handle2, err := a.Store([]byte("xxxx"))
	if err != nil {
		t.Fatal(err)
	}
	defer handle1.Release()
	defer handle2.Release()

	if h1 != h2 {
		t.Fatalf("hashes differ for identical content: %x vs %x", h1, h2)
	}
	if a.UniqueBlobCount() != 1 {
		t.Errorf("UniqueBlobCount() = %d, want 1", a.UniqueBlobCount())
	}
	if a.StrongCount(h1) != 2 {
		t.Errorf("StrongCount() = %d, want 2", a.StrongCount(h1))
	}
}

// S2 scenario: dedup across two paths, then delete/release in order.
func TestStore_RefCountingReleasesAtZero(t *testing.T) {
	a := newTestArena(t)

	_, ha, _ := a.Store([]byte("xxxx"))
	h, hb, _ := a.Store([]byte("xxxx"))

	if a.StrongCount(h) != 2 {
		t.Fatalf("expected strong count 2, got %d", a.StrongCount(h))
	}

	ha.Release()
	if a.StrongCount(h) != 1 {
		t.Fatalf("expected strong count 1 after one release, got %d", a.StrongCount(h))
	}
	if hGet, ok := a.Get(h); !ok {
		t.Fatal("buffer should still be alive with one reference remaining")
	} else {
		// Get() bumped the count; release it back down to compensate.
		hGet.Release()
	}

	hb.Release()
	if a.StrongCount(h) != 0 {
		t.Fatalf("expected strong count 0 after all released, got %d", a.StrongCount(h))
	}
	if _, ok := a.Get(h); ok {
		t.Fatal("slot should be removed once strong count reaches zero")
	}
}

func TestHandle_Bytes_RoundTrip(t *testing.T) {
	a := newTestArena(t)

	want := []byte("hello world")
	_, h, err := a.Store(want)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	got, err := h.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Bytes() = %q, want %q", got, want)
	}
}

func TestReadRange_OutOfRangeIsShortNotError(t *testing.T) {
	a := newTestArena(t)
	_, h, _ := a.Store([]byte("hello"))
	defer h.Release()

	data, err := ReadRange(h, 3, 100)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "lo" {
		t.Errorf("ReadRange = %q, want %q", data, "lo")
	}

	data, err = ReadRange(h, 50, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Errorf("ReadRange past end = %q, want empty", data)
	}
}

func TestCompression_PreservesDedupAcrossThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CompressionEnabled = true
	cfg.CompressionThreshold = 8 // force compression on short test data
	a, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	payload := bytes.Repeat([]byte("a"), 4096)
	h1, handle1, _ := a.Store(payload)
	defer handle1.Release()

	got, err := handle1.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("decompressed bytes do not match original")
	}

	// Hashing must cover uncompressed bytes: storing the same content
	// through a non-compressing arena must yield the same hash.
	plainArena, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	defer plainArena.Close()
	h2, handle2, _ := plainArena.Store(payload)
	defer handle2.Release()

	if h1 != h2 {
		t.Fatal("content hash differs depending on compression configuration")
	}
}

func TestAcquire_IndependentRelease(t *testing.T) {
	a := newTestArena(t)
	h, handle, _ := a.Store([]byte("data"))

	second := handle.Acquire()
	if a.StrongCount(h) != 2 {
		t.Fatalf("Acquire did not bump strong count: %d", a.StrongCount(h))
	}

	handle.Release()
	if a.StrongCount(h) != 1 {
		t.Fatalf("expected 1 after releasing original, got %d", a.StrongCount(h))
	}

	second.Release()
	if a.StrongCount(h) != 0 {
		t.Fatalf("expected 0 after releasing acquired handle, got %d", a.StrongCount(h))
	}
}
