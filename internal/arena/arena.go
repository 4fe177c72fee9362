// Package arena implements ShadowFS's Content Arena (component C2): a
// content-addressed, deduplicated, reference-counted byte store.
package arena

import (
	"bytes"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/blake3"
)

// Hash is a 32-byte BLAKE3 content hash.
type Hash [32]byte

// HashBytes computes the content hash of b. Hashing always covers the
// uncompressed bytes, so deduplication stays correct across compression
// settings (spec §4.2 / §9 open question resolution).
func HashBytes(b []byte) Hash {
	return blake3.Sum256(b)
}

// Handle is a shared-ownership reference into the arena. A File override
// entry holds exactly one Handle; Release must be called exactly once per
// Handle obtained from Store/Get (Acquire bumps the strong count and hands
// back a second Handle that also needs its own Release).
type Handle struct {
	arena *Arena
	hash  Hash
	once  sync.Once
}

// Hash returns the content hash this handle refers to.
func (h *Handle) Hash() Hash {
	return h.hash
}

// Bytes returns the (decompressed) content bytes. Valid until Release.
func (h *Handle) Bytes() ([]byte, error) {
	return h.arena.bytesFor(h.hash)
}

// Len returns the uncompressed content length without decompressing.
func (h *Handle) Len() int {
	return h.arena.lenFor(h.hash)
}

// Release drops this handle's strong reference. Safe to call more than
// once; only the first call has effect.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.arena.release(h.hash)
	})
}

// Acquire returns a new Handle sharing this one's slot, bumping the strong
// count. The caller owns the returned Handle and must Release it
// independently.
func (h *Handle) Acquire() *Handle {
	return h.arena.acquire(h.hash)
}

type slot struct {
	data        []byte // possibly compressed
	compressed  bool
	plainLen    int
	strongCount int64
}

const shardCount = 32

type shard struct {
	mu    sync.Mutex
	slots map[Hash]*slot
}

// Config controls the arena's optional transparent compression. The
// threshold and enable flag are configuration, never behavior: hashing
// always happens before compression (see HashBytes).
type Config struct {
	CompressionEnabled   bool
	CompressionThreshold int // bytes; default 1 MiB
}

// DefaultConfig returns the spec-mandated default (compression disabled,
// 1 MiB threshold).
func DefaultConfig() Config {
	return Config{
		CompressionEnabled:   false,
		CompressionThreshold: 1024 * 1024,
	}
}

// Arena is the content-addressed byte store. It supports concurrent
// inserts, lookups, and removes without a single global lock: the
// keyspace is sharded by hash prefix, and each shard mutex is held only
// for O(1) map work.
type Arena struct {
	config  Config
	shards  [shardCount]*shard
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// New creates an Arena with the given configuration.
func New(config Config) (*Arena, error) {
	a := &Arena{config: config}
	for i := range a.shards {
		a.shards[i] = &shard{slots: make(map[Hash]*slot)}
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	a.encoder = enc
	a.decoder = dec
	return a, nil
}

// Close releases the arena's compressor/decompressor resources.
func (a *Arena) Close() {
	if a.encoder != nil {
		a.encoder.Close()
	}
	if a.decoder != nil {
		a.decoder.Close()
	}
}

func (a *Arena) shardFor(h Hash) *shard {
	return a.shards[h[0]%shardCount]
}

// Store computes the content hash of data, inserts it if not already
// present (bumping the strong count if it is), and returns the hash plus
// a Handle the caller owns. Store(b) called twice for identical bytes
// yields the same hash, and the second call returns a handle into the
// same underlying buffer (content deduplication).
func (a *Arena) Store(data []byte) (Hash, *Handle, error) {
	h := HashBytes(data)
	sh := a.shardFor(h)

	sh.mu.Lock()
	if s, ok := sh.slots[h]; ok {
		s.strongCount++
		sh.mu.Unlock()
		return h, &Handle{arena: a, hash: h}, nil
	}

	s := &slot{plainLen: len(data), strongCount: 1}
	if a.config.CompressionEnabled && len(data) > a.config.CompressionThreshold {
		compressed := a.encoder.EncodeAll(data, nil)
		s.data = compressed
		s.compressed = true
	} else {
		buf := make([]byte, len(data))
		copy(buf, data)
		s.data = buf
	}
	sh.slots[h] = s
	sh.mu.Unlock()

	return h, &Handle{arena: a, hash: h}, nil
}

// Get looks up hash and, if present, returns a Handle the caller owns
// (the strong count is bumped). Returns nil, false if absent.
func (a *Arena) Get(h Hash) (*Handle, bool) {
	sh := a.shardFor(h)
	sh.mu.Lock()
	s, ok := sh.slots[h]
	if ok {
		s.strongCount++
	}
	sh.mu.Unlock()
	if !ok {
		return nil, false
	}
	return &Handle{arena: a, hash: h}, true
}

// StrongCount reports the current strong-reference count for hash, or 0
// if absent.
func (a *Arena) StrongCount(h Hash) int64 {
	sh := a.shardFor(h)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.slots[h]; ok {
		return s.strongCount
	}
	return 0
}

// UniqueBlobCount reports the number of distinct content hashes currently
// resident, for observability (§6).
func (a *Arena) UniqueBlobCount() int {
	total := 0
	for _, sh := range a.shards {
		sh.mu.Lock()
		total += len(sh.slots)
		sh.mu.Unlock()
	}
	return total
}

func (a *Arena) acquire(h Hash) *Handle {
	sh := a.shardFor(h)
	sh.mu.Lock()
	if s, ok := sh.slots[h]; ok {
		s.strongCount++
	}
	sh.mu.Unlock()
	return &Handle{arena: a, hash: h}
}

func (a *Arena) release(h Hash) {
	sh := a.shardFor(h)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.slots[h]
	if !ok {
		return
	}
	s.strongCount--
	if s.strongCount <= 0 {
		delete(sh.slots, h)
	}
}

func (a *Arena) bytesFor(h Hash) ([]byte, error) {
	sh := a.shardFor(h)
	sh.mu.Lock()
	s, ok := sh.slots[h]
	sh.mu.Unlock()
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	if !s.compressed {
		out := make([]byte, len(s.data))
		copy(out, s.data)
		return out, nil
	}
	return a.decoder.DecodeAll(s.data, make([]byte, 0, s.plainLen))
}

func (a *Arena) lenFor(h Hash) int {
	sh := a.shardFor(h)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if s, ok := sh.slots[h]; ok {
		return s.plainLen
	}
	return 0
}

// ReadRange serves a short/zero-byte-safe range read of the handle's
// content: out-of-range reads return a truncated slice rather than an
// error, matching the Resolver's read semantics (§4.7).
func ReadRange(h *Handle, offset, length int64) ([]byte, error) {
	data, err := h.Bytes()
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset >= int64(len(data)) {
		return []byte{}, nil
	}
	end := offset + length
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return bytes.Clone(data[offset:end]), nil
}
