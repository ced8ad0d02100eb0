package uploadstate

import (
	"hash/fnv"
	"sync"
)

// UploadLocker serializes PATCHes for a single uploadId. The default
// protocol engine wiring leaves this unused - the offset check alone
// enforces ordering - but a deployment that wants to avoid orphaned
// multipart parts from racing PATCHes at the same offset can opt in via
// config.
type UploadLocker interface {
	// Lock blocks until the uploadId's stripe is acquired and returns a
	// function that releases it.
	Lock(uploadID string) func()
}

// stripeCount is fixed rather than configurable: it only needs to be large
// enough that collisions between unrelated uploadIds are rare, not that
// every uploadId gets its own mutex.
const stripeCount = 256

// StripedLocker is a fixed-size array of mutexes, one per hash bucket of
// uploadId. It never grows, so it carries no per-upload bookkeeping to leak
// or expire.
type StripedLocker struct {
	stripes [stripeCount]sync.Mutex
}

// NewStripedLocker creates a ready-to-use StripedLocker.
func NewStripedLocker() *StripedLocker {
	return &StripedLocker{}
}

func (l *StripedLocker) stripeFor(uploadID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(uploadID))
	return &l.stripes[h.Sum32()%stripeCount]
}

// Lock acquires the stripe for uploadID and returns its unlock func.
func (l *StripedLocker) Lock(uploadID string) func() {
	m := l.stripeFor(uploadID)
	m.Lock()
	return m.Unlock
}

// NoopLocker is the default UploadLocker: every call is a no-op, leaving
// offset-check-only concurrency control.
type NoopLocker struct{}

func (NoopLocker) Lock(string) func() { return func() {} }
