package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrTxAborted   = errors.New("db: transaction aborted")
)

// Op constants map to Valkey/Redis command names for error context.
const (
	OpHGetAll  = "HGETALL"
	OpHSet     = "HSET"
	OpHSetNX   = "HSETNX"
	OpHIncrBy  = "HINCRBY"
	OpRPush    = "RPUSH"
	OpLRange   = "LRANGE"
	OpSAdd     = "SADD"
	OpSMembers = "SMEMBERS"
	OpExpire   = "EXPIRE"
	OpExec     = "EXEC"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
