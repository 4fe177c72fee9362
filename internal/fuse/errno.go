package fuse

import (
	"log"
	"syscall"

	"github.com/google/uuid"

	shadowerrors "github.com/shadowfs/shadowfs/pkg/errors"
)

// toErrno translates a resolver error into the Errno go-fuse expects back
// from an operation callback. Every failing call is stamped with a fresh
// correlation ID and logged before translation, so a report of "ENOENT
// on this mount" can be traced back to one resolver-level error.
func toErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	se, ok := err.(*shadowerrors.ShadowFSError)
	if !ok {
		log.Printf("shadowfs: request=%s unclassified error: %v", uuid.NewString(), err)
		return syscall.EIO
	}
	se.WithRequestID(uuid.NewString())
	log.Printf("shadowfs: request=%s %s", se.RequestID, se.Error())

	switch se.Code {
	case shadowerrors.ErrCodeNotFound, shadowerrors.ErrCodeNotMounted:
		return syscall.ENOENT
	case shadowerrors.ErrCodeAlreadyExists:
		return syscall.EEXIST
	case shadowerrors.ErrCodeNotADirectory:
		return syscall.ENOTDIR
	case shadowerrors.ErrCodeIsADirectory:
		return syscall.EISDIR
	case shadowerrors.ErrCodePermissionDenied:
		return syscall.EACCES
	case shadowerrors.ErrCodeInvalidPath:
		return syscall.ENAMETOOLONG
	case shadowerrors.ErrCodeOverrideStoreFull:
		return syscall.ENOSPC
	case shadowerrors.ErrCodeUnsupported:
		return syscall.ENOSYS
	default:
		return syscall.EIO
	}
}
