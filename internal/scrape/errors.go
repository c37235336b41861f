package scrape

import (
	"errors"
	"fmt"
)

// Sentinel errors forming the service-wide taxonomy. Callers classify with
// errors.Is; the API layer maps them to HTTP status codes.
var (
	// ErrNotFound marks an absent owner, job, or profile.
	ErrNotFound = errors.New("not found")
	// ErrPreconditionFailed marks insufficient quota or parallelism, an
	// empty URL/proxy set, or otherwise malformed input.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrInternal marks a storage, filesystem, or network subsystem failure.
	ErrInternal = errors.New("internal error")
)

// NotFoundf builds an ErrNotFound with context.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// PreconditionFailedf builds an ErrPreconditionFailed with context.
func PreconditionFailedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPreconditionFailed, fmt.Sprintf(format, args...))
}

// Internalf builds an ErrInternal wrapping an underlying cause.
func Internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}
