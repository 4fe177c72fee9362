// Package localsource implements shim.SourceFilesystem over a real
// directory on disk: the base layer a ShadowFS mount shadows.
package localsource

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shadowfs/shadowfs/internal/buffer"
	"github.com/shadowfs/shadowfs/internal/circuit"
	shadowpath "github.com/shadowfs/shadowfs/internal/path"
	"github.com/shadowfs/shadowfs/internal/shim"
	"github.com/shadowfs/shadowfs/pkg/errors"
	"github.com/shadowfs/shadowfs/pkg/retry"
	"github.com/shadowfs/shadowfs/pkg/utils"
)

// Source reads a real directory tree as a Resolver's source layer. All
// paths are validated to stay within the configured root before
// touching the filesystem.
type Source struct {
	root    string
	breaker *circuit.CircuitBreaker
	retryer *retry.Retryer
}

// New builds a Source rooted at root. root must exist and be a
// directory.
func New(root string) (*Source, error) {
	return NewWithBreaker(root, nil)
}

// NewWithBreaker builds a Source rooted at root, routing every disk
// operation through breaker. A nil breaker disables breaking, matching
// New. Use this when the source directory may be a network mount that
// can hang or fail repeatedly — the breaker trips after a configured
// run of failures and fails fast instead of piling up blocked goroutines.
func NewWithBreaker(root string, breaker *circuit.CircuitBreaker) (*Source, error) {
	return NewWithOptions(root, breaker, nil)
}

// NewWithOptions builds a Source rooted at root with both a circuit
// breaker and a retryer. A nil retryer disables retrying, matching
// NewWithBreaker. The retryer runs inside the breaker, so repeated
// retry exhaustion still counts as a single failure toward the
// breaker's trip threshold rather than one failure per attempt.
func NewWithOptions(root string, breaker *circuit.CircuitBreaker, retryer *retry.Retryer) (*Source, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("localsource: stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("localsource: root %s is not a directory", root)
	}
	return &Source{root: root, breaker: breaker, retryer: retryer}, nil
}

// guard runs fn through the configured retryer and circuit breaker, in
// that order, falling back to a direct call when neither is configured.
func (s *Source) guard(fn func() error) error {
	run := fn
	if s.retryer != nil {
		run = func() error { return s.retryer.Do(fn) }
	}
	if s.breaker == nil {
		return run()
	}
	return s.breaker.Execute(run)
}

// notFoundError wraps an underlying OS error and reports it as "source
// does not have this path" through shim.NotFounder, so a breaker's
// IsSuccessful (as in cmd/shadowfsd) can tell it from a failing source.
type notFoundError struct {
	cause error
}

func (e *notFoundError) Error() string          { return e.cause.Error() }
func (e *notFoundError) Unwrap() error          { return e.cause }
func (e *notFoundError) IsSourceNotFound() bool { return true }

var _ shim.NotFounder = (*notFoundError)(nil)

// platformError wraps a non-not-found OS error as a PlatformError so
// pkg/retry's code-based filter recognizes it as transient and worth
// retrying.
func platformError(err error) error {
	return errors.NewPlatformError("local", err.Error(), nil)
}

func (s *Source) resolve(p shadowpath.ShadowPath) (string, error) {
	rel := strings.TrimPrefix(p.String(), "/")
	if rel == "" {
		return s.root, nil
	}
	full, err := utils.SecureJoin(s.root, rel)
	if err != nil {
		return "", fmt.Errorf("localsource: %w", err)
	}
	return full, nil
}

// SourceRead returns up to length bytes of p's content starting at
// offset. An out-of-range offset yields an empty slice, not an error.
func (s *Source) SourceRead(p shadowpath.ShadowPath, offset, length int64) ([]byte, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	var result []byte
	err = s.guard(func() error {
		f, err := os.Open(full)
		if err != nil {
			if os.IsNotExist(err) {
				return &notFoundError{cause: err}
			}
			return platformError(err)
		}
		defer f.Close()

		off := offset
		if off < 0 {
			off = 0
		}
		if _, err := f.Seek(off, io.SeekStart); err != nil {
			return platformError(err)
		}

		buf := buffer.Default.Get(int(length))
		n, err := io.ReadFull(f, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return platformError(err)
		}
		result = buf[:n]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SourceList returns the immediate children of directory p.
func (s *Source) SourceList(p shadowpath.ShadowPath) ([]shim.DirEntry, error) {
	full, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	var out []shim.DirEntry
	err = s.guard(func() error {
		dirents, err := os.ReadDir(full)
		if err != nil {
			if os.IsNotExist(err) {
				return &notFoundError{cause: err}
			}
			return platformError(err)
		}

		out = make([]shim.DirEntry, 0, len(dirents))
		for _, de := range dirents {
			info, err := de.Info()
			if err != nil {
				continue
			}
			out = append(out, shim.DirEntry{Name: de.Name(), Metadata: infoToMetadata(info)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SourceMetadata returns metadata for p.
func (s *Source) SourceMetadata(p shadowpath.ShadowPath) (shadowpath.FileMetadata, error) {
	full, err := s.resolve(p)
	if err != nil {
		return shadowpath.FileMetadata{}, err
	}

	var meta shadowpath.FileMetadata
	err = s.guard(func() error {
		info, err := os.Stat(full)
		if err != nil {
			if os.IsNotExist(err) {
				return &notFoundError{cause: err}
			}
			return platformError(err)
		}
		meta = infoToMetadata(info)
		return nil
	})
	if err != nil {
		return shadowpath.FileMetadata{}, err
	}
	return meta, nil
}

func infoToMetadata(info os.FileInfo) shadowpath.FileMetadata {
	typ := shadowpath.TypeFile
	switch {
	case info.IsDir():
		typ = shadowpath.TypeDirectory
	case info.Mode()&os.ModeSymlink != 0:
		typ = shadowpath.TypeSymlink
	}

	meta := shadowpath.NewFileMetadata(uint64(info.Size()), typ)
	meta.Permissions = shadowpath.FromUnixMode(uint32(info.Mode().Perm()))
	meta.Modified = info.ModTime()
	// A plain os.FileInfo carries no separate creation/access time
	// across platforms; mirror Modified rather than guessing.
	meta.Created = info.ModTime()
	meta.Accessed = info.ModTime()
	return meta
}
