// Package shim declares the narrow contract between the ShadowFS core and
// a boundary shim (a platform filesystem adapter such as the FUSE/cgofuse
// integration in internal/fuse). The core never imports a platform
// package directly; it only depends on these interfaces.
package shim

import (
	"time"

	shadowpath "github.com/shadowfs/shadowfs/internal/path"
)

// OperationKind enumerates the request shapes the Resolver answers.
type OperationKind int

const (
	OpLookupMetadata OperationKind = iota
	OpRead
	OpListDirectory
	OpOpenForWrite
	OpCreate
	OpDelete
	OpRename
)

func (k OperationKind) String() string {
	switch k {
	case OpLookupMetadata:
		return "lookup-metadata"
	case OpRead:
		return "read"
	case OpListDirectory:
		return "list-directory"
	case OpOpenForWrite:
		return "open-for-write"
	case OpCreate:
		return "create"
	case OpDelete:
		return "delete"
	case OpRename:
		return "rename"
	default:
		return "unknown"
	}
}

// DirEntry is one entry in a merged directory listing.
type DirEntry struct {
	Name     string
	Metadata shadowpath.FileMetadata
}

// SourceFilesystem is the outward-facing callback the shim must provide:
// read-only access to the real filesystem a mount is shadowing. The core
// treats any not-found error from these methods as "source does not have
// it" (spec §6).
type SourceFilesystem interface {
	// SourceRead returns up to length bytes starting at offset. A
	// short/zero-length result for an out-of-range read is not an error;
	// only a genuinely missing or unreadable path returns an error.
	SourceRead(p shadowpath.ShadowPath, offset, length int64) ([]byte, error)

	// SourceList returns the immediate children of directory p.
	SourceList(p shadowpath.ShadowPath) ([]DirEntry, error)

	// SourceMetadata returns metadata for p.
	SourceMetadata(p shadowpath.ShadowPath) (shadowpath.FileMetadata, error)
}

// NotFounder is implemented by errors that denote "source does not have
// this path"; IsSourceNotFound reports whether the error is one.
// Boundary shims implementing SourceFilesystem should return an error
// satisfying this check (or errors.Is-compatible with pkg/errors'
// NotFound) for missing paths rather than a generic error.
type NotFounder interface {
	IsSourceNotFound() bool
}

// CreatePayload carries the operation-specific fields for OpCreate.
type CreatePayload struct {
	Type        shadowpath.FileType
	Permissions shadowpath.FilePermissions
}

// WritePayload carries the operation-specific fields for OpOpenForWrite.
type WritePayload struct {
	Offset int64
	Bytes  []byte
}

// RenamePayload carries the destination path for OpRename.
type RenamePayload struct {
	To shadowpath.ShadowPath
}

// Result is what the core returns for a successfully resolved operation.
// Exactly the fields relevant to the requested OperationKind are
// populated; the rest are left zero.
type Result struct {
	Data      []byte
	Metadata  shadowpath.FileMetadata
	Entries   []DirEntry
	Timestamp time.Time
}
