package domain

import "context"

// Backend opens an incremental text stream for a normalized request.
// Implementations classify their own failures into ErrBackendUnavailable or
// *BackendRejectedError.
type Backend interface {
	Stream(ctx context.Context, req *NormalizedRequest) (FragmentStream, error)
}

// FragmentStream is a pull iterator over backend text fragments.
//
// Next advances to the next fragment and returns false once the stream is
// exhausted or failed. After Next returns false, Err reports the failure, and
// when Err is nil Usage holds the terminal usage record. Close releases the
// underlying connection and may be called at any time.
type FragmentStream interface {
	Next() bool
	Fragment() string
	Usage() TokenUsage
	Err() error
	Close() error
}

// HealthChecker is implemented by backends that can probe availability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
