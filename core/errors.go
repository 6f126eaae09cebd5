package core

import (
	"errors"
	"fmt"
)

// InvalidParamsError reports a caller-supplied filter or block that violates
// the API's own preconditions (e.g. blockHash combined with a range).
type InvalidParamsError struct {
	Message string
	Field   string
}

func (e *InvalidParamsError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid params: %s (field=%s)", e.Message, e.Field)
	}
	return fmt.Sprintf("invalid params: %s", e.Message)
}

// NotFoundError reports that a referenced block or log does not exist. A
// query that simply matches nothing is not an error and must not use this
// type.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.Message) }

// QueryTooBroadError reports that an OR-list clause exceeded
// planner.max_or_terms under the Error guardrail action.
type QueryTooBroadError struct {
	Clause string
	Size   int
	Limit  int
}

func (e *QueryTooBroadError) Error() string {
	return fmt.Sprintf("query too broad: clause %s has %d terms, limit %d", e.Clause, e.Size, e.Limit)
}

// OrderingViolationError reports that a block was presented out of order or
// with a mismatched parent hash.
type OrderingViolationError struct {
	Message  string
	Expected uint64
	Got      uint64
}

func (e *OrderingViolationError) Error() string {
	return fmt.Sprintf("ordering violation: %s (expected=%d got=%d)", e.Message, e.Expected, e.Got)
}

// FinalityViolationError reports that a different block hash was presented
// at a height already covered by the finalized head. This is non-recoverable:
// the engine collapses to Degraded.
type FinalityViolationError struct {
	BlockNum uint64
	Have     Hash
	Got      Hash
}

func (e *FinalityViolationError) Error() string {
	return fmt.Sprintf("finality violation at block %d: have %s got %s", e.BlockNum, e.Have, e.Got)
}

// FenceRejectedError reports that a mutating store call carried a stale
// writer epoch. The caller has lost its lease.
type FenceRejectedError struct {
	Supplied uint64
	Current  uint64
}

func (e *FenceRejectedError) Error() string {
	return fmt.Sprintf("fence rejected: supplied epoch %d, current %d", e.Supplied, e.Current)
}

// LeaseLostError reports that the writer's lease was revoked or expired
// between the lease check and a subsequent write.
type LeaseLostError struct {
	Message string
}

func (e *LeaseLostError) Error() string { return fmt.Sprintf("lease lost: %s", e.Message) }

// CorruptionError reports a checksum mismatch, an unsupported codec version,
// or a manifest reference to a missing chunk. Non-recoverable.
type CorruptionError struct {
	Message string
	Key     string
}

func (e *CorruptionError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("corruption: %s (key=%s)", e.Message, e.Key)
	}
	return fmt.Sprintf("corruption: %s", e.Message)
}

// BackendTransientError wraps a retryable failure returned by a store
// adapter.
type BackendTransientError struct {
	Op  string
	Err error
}

func (e *BackendTransientError) Error() string {
	return fmt.Sprintf("backend transient error during %s: %v", e.Op, e.Err)
}

func (e *BackendTransientError) Unwrap() error { return e.Err }

// GuardrailExceededError reports that GC backlog counters exceeded their
// configured caps.
type GuardrailExceededError struct {
	Counter string
	Value   uint64
	Limit   uint64
}

func (e *GuardrailExceededError) Error() string {
	return fmt.Sprintf("guardrail exceeded: %s=%d limit=%d", e.Counter, e.Value, e.Limit)
}

func IsInvalidParams(err error) bool {
	var e *InvalidParamsError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsQueryTooBroad(err error) bool {
	var e *QueryTooBroadError
	return errors.As(err, &e)
}

func IsOrderingViolation(err error) bool {
	var e *OrderingViolationError
	return errors.As(err, &e)
}

func IsFinalityViolation(err error) bool {
	var e *FinalityViolationError
	return errors.As(err, &e)
}

func IsFenceRejected(err error) bool {
	var e *FenceRejectedError
	return errors.As(err, &e)
}

func IsLeaseLost(err error) bool {
	var e *LeaseLostError
	return errors.As(err, &e)
}

func IsCorruption(err error) bool {
	var e *CorruptionError
	return errors.As(err, &e)
}

func IsBackendTransient(err error) bool {
	var e *BackendTransientError
	return errors.As(err, &e)
}

func IsGuardrailExceeded(err error) bool {
	var e *GuardrailExceededError
	return errors.As(err, &e)
}

// IsNonRecoverable reports whether err must collapse the engine to Degraded
// per the propagation policy: corruption, finality violations and lease loss
// during a critical section are never retried.
func IsNonRecoverable(err error) bool {
	return IsCorruption(err) || IsFinalityViolation(err) || IsLeaseLost(err)
}
