package novel

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Terminal fetch conditions. These are never retried.
var (
	ErrLoginRequired = errors.New("login required")
	ErrNotFound      = errors.New("not found")
	ErrInvalidID     = errors.New("invalid identifier")
)

// ErrParse marks a response that could not be parsed into the expected shape.
var ErrParse = errors.New("unparseable response")

// Store errors.
var (
	ErrCacheMiss   = errors.New("unit not cached")
	ErrJobNotFound = errors.New("job not found")
)

// FetchKind classifies a fetch failure.
type FetchKind string

// Fetch failure kinds.
const (
	FetchTransient FetchKind = "transient"
	FetchTerminal  FetchKind = "terminal"
)

// FetchError is returned by fetchers once a call has failed for good.
type FetchError struct {
	Kind     FetchKind
	Op       string
	Ref      WorkRef
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s %s (%s after %d attempts): %v", e.Op, e.Ref, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError classifies err and wraps it.
func NewFetchError(op string, ref WorkRef, attempts int, err error) *FetchError {
	kind := FetchTransient
	if IsTerminal(err) {
		kind = FetchTerminal
	}
	return &FetchError{Kind: kind, Op: op, Ref: ref, Attempts: attempts, Err: err}
}

// IsTerminal reports whether err is a condition retrying cannot fix.
func IsTerminal(err error) bool {
	if err == nil {
		return false
	}
	var fe *FetchError
	if errors.As(err, &fe) && fe.Kind == FetchTerminal {
		return true
	}
	return errors.Is(err, ErrLoginRequired) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, context.Canceled)
}

// IsTimeout reports whether err is a timeout-class failure.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// AssetError reports a packaging asset (image) that could not be retrieved.
type AssetError struct {
	URL string
	Err error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s: %v", e.URL, e.Err)
}

func (e *AssetError) Unwrap() error {
	return e.Err
}
