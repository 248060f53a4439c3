package index

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedEntry = errors.New("malformed sindex entry")
	ErrUnknownType    = errors.New("unknown index type")
	ErrNotReadable    = errors.New("index not readable")
	ErrNoInfo         = errors.New("no info response")
)

// CacheRefreshError reports a refresh that could not reach the cluster or
// could not read its answer. The previous snapshot is still published.
type CacheRefreshError struct {
	Op  string
	Err error
}

func (e *CacheRefreshError) Error() string {
	return fmt.Sprintf("index cache %s: %v", e.Op, e.Err)
}

func (e *CacheRefreshError) Unwrap() error {
	return e.Err
}
