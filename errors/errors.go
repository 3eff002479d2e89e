// Package errors provides the structured error types shared by the storefront synchronization packages.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode is the stable, machine readable tag of a SyncError.
type ErrorCode string

const (
	ErrCodeNetworkFailure      ErrorCode = "NETWORK_FAILURE"
	ErrCodeStorageFailure      ErrorCode = "STORAGE_FAILURE"
	ErrCodeValidationFailure   ErrorCode = "VALIDATION_FAILURE"
	ErrCodeUnauthenticated     ErrorCode = "UNAUTHENTICATED"
	ErrCodePartialBatchFailure ErrorCode = "PARTIAL_BATCH_FAILURE"
)

// Kind classifies an error independently of where it happened.
type Kind string

const (
	KindInvalid          Kind = "invalid"
	KindUnauthenticated  Kind = "unauthenticated"
	KindNotFound         Kind = "not_found"
	KindUnavailable      Kind = "unavailable"
	KindInternal         Kind = "internal"
	KindMethodNotAllowed Kind = "method_not_allowed"
)

// Operation names what was being attempted, e.g. "add_to_cart".
type Operation string

const (
	// remote datastore verbs
	OpFetch     Operation = "fetch"
	OpCreate    Operation = "create"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
	OpTransport Operation = "transport"

	// local storage
	OpStore Operation = "store"
	OpLoad  Operation = "load"

	// cart
	OpFetchCart      Operation = "fetch_cart"
	OpAddToCart      Operation = "add_to_cart"
	OpRemoveFromCart Operation = "remove_from_cart"
	OpUpdateQuantity Operation = "update_quantity"
	OpClearCart      Operation = "clear_cart"

	// wishlist
	OpFetchWishlist      Operation = "fetch_wishlist"
	OpAddToWishlist      Operation = "add_to_wishlist"
	OpRemoveFromWishlist Operation = "remove_from_wishlist"
	OpClearWishlist      Operation = "clear_wishlist"

	OpFetchProducts Operation = "fetch_products"
	OpSignIn        Operation = "sign_in"
	OpUpdateProfile Operation = "update_profile"
	OpPlaceOrder    Operation = "place_order"
)

// ErrUnauthenticated is returned when a mutating operation is attempted without a signed-in identity.
var ErrUnauthenticated = errors.New("no signed-in identity")

// SyncError is a failure to bring local shopper state and the remote store in line.
type SyncError struct {
	Op        Operation
	Component string // "cart", "rest-client", ...
	Kind      Kind
	Code      ErrorCode
	Err       error
	Retryable bool

	// Metadata is rendered by the logging package next to the error.
	Metadata map[string]interface{}
}

func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Op))
	if e.Component != "" {
		b.WriteString(" in ")
		b.WriteString(e.Component)
	}
	b.WriteString(" failed")
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewValidationError reports input the remote would reject. It is never retried.
func NewValidationError(op Operation, cause error) *SyncError {
	return &SyncError{Op: op, Kind: KindInvalid, Code: ErrCodeValidationFailure, Err: cause}
}

// NewNetworkError reports a request that did not get a usable answer from the remote.
func NewNetworkError(op Operation, cause error) *SyncError {
	return &SyncError{
		Op:        op,
		Component: "transport",
		Kind:      KindUnavailable,
		Code:      ErrCodeNetworkFailure,
		Err:       cause,
		Retryable: true,
	}
}

// NewUnauthenticatedError reports a write attempted without a signed-in identity.
func NewUnauthenticatedError(op Operation, component string) *SyncError {
	return &SyncError{
		Op:        op,
		Component: component,
		Kind:      KindUnauthenticated,
		Code:      ErrCodeUnauthenticated,
		Err:       ErrUnauthenticated,
	}
}

// NewRetryable marks err as worth another attempt without classifying it further.
func NewRetryable(op Operation, err error) *SyncError {
	return &SyncError{Op: op, Err: err, Retryable: true}
}

// Op and Component are argument types for E.
type (
	Op        string
	Component string
)

// E builds a SyncError from its arguments. Recognized argument types are
// Op, Operation, Component, Kind, ErrorCode, error, string (context message) and
// map[string]interface{} (metadata). KindUnavailable marks the error retryable; without a
// Kind, the kind and retry hint of a wrapped SyncError carry over.
func E(args ...interface{}) error {
	if len(args) == 0 {
		return nil
	}
	e := &SyncError{}
	var msgs []string
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = Operation(a)
		case Operation:
			e.Op = a
		case Component:
			e.Component = string(a)
		case Kind:
			e.Kind = a
		case ErrorCode:
			e.Code = a
		case error:
			e.Err = a
		case string:
			msgs = append(msgs, a)
		case map[string]interface{}:
			e.Metadata = a
		}
	}
	if len(msgs) > 0 {
		msg := strings.Join(msgs, ": ")
		if e.Err != nil {
			e.Err = fmt.Errorf("%s: %w", msg, e.Err)
		} else {
			e.Err = errors.New(msg)
		}
	}
	if e.Kind == "" {
		// inherit the kind of a wrapped SyncError
		var inner *SyncError
		if errors.As(e.Err, &inner) {
			e.Kind = inner.Kind
			e.Retryable = inner.Retryable
		}
	}
	if e.Kind == KindUnavailable {
		e.Retryable = true
	}
	return e
}

// IsRetryable reports whether the outermost SyncError in err's chain may be retried.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// IsKind reports whether any SyncError in err's chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var syncErr *SyncError
		if !errors.As(err, &syncErr) {
			return false
		}
		if syncErr.Kind == kind {
			return true
		}
		err = syncErr.Err
	}
	return false
}

// BatchError reports the per-item outcome of a bulk operation where at least one item failed.
type BatchError struct {
	Op        Operation
	Failures  map[string]error
	Succeeded []string
}

func (e *BatchError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("%s: %v", id, e.Failures[id]))
	}
	return fmt.Sprintf("%s: %d of %d items failed [%s]: %s",
		e.Op, len(e.Failures), len(e.Failures)+len(e.Succeeded), ErrCodePartialBatchFailure, strings.Join(parts, "; "))
}

// Unwrap exposes the individual failures to errors.Is / errors.As.
func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}

// FailedIDs returns the ids of the items that failed, sorted.
func (e *BatchError) FailedIDs() []string {
	ids := make([]string, 0, len(e.Failures))
	for id := range e.Failures {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
