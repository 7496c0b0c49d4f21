package db

import (
	"context"
	"errors"
	"testing"
)

func TestError_WrapsOp(t *testing.T) {
	err := error(&Error{Op: OpHIncrBy, Err: context.DeadlineExceeded})

	if err.Error() != "HINCRBY: context deadline exceeded" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected Unwrap to expose the cause")
	}
	var dbErr *Error
	if !errors.As(err, &dbErr) || dbErr.Op != OpHIncrBy {
		t.Errorf("errors.As failed: %v", err)
	}
}
