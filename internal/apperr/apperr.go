// Package apperr provides the typed domain error used across the indexer's
// components, following the error taxonomy of the ingestion/query pipeline.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error so callers (retry loops, GraphQL resolvers) can
// branch on behavior without string-matching messages.
type Kind string

const (
	// KindTransient covers node RPC drops, store connection resets, and bus
	// reconnects. Callers should retry with backoff.
	KindTransient Kind = "transient"

	// KindMalformed covers a block that failed to decode, or metadata that
	// is still unknown after a refresh. Fatal at the chain indexer.
	KindMalformed Kind = "malformed_input"

	// KindProtocolViolation covers a parent-hash mismatch or an id gap.
	// Fatal at the chain indexer.
	KindProtocolViolation Kind = "protocol_violation"

	// KindTransactionLogic covers the ledger runtime rejecting a single
	// transaction. The transaction is persisted with Failure status and
	// ingestion continues.
	KindTransactionLogic Kind = "transaction_logic"

	// KindWalletLogic covers a wallet's viewing-key envelope failing to
	// decrypt. The wallet is deactivated and the indexer continues.
	KindWalletLogic Kind = "wallet_logic"

	// KindClientInput covers a query that is too deep/complex, or an
	// unknown/inactive session. Surfaced to the client as a structured
	// error.
	KindClientInput Kind = "client_input"

	// KindResource covers timeouts and full outbound queues. The offending
	// unit of work is cancelled or closed.
	KindResource Kind = "resource"
)

// Error is the domain error type. Message is assumed pre-sanitized for
// client consumption; Cause carries the underlying error for logs only.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error that preserves cause for %w-style unwrapping.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindResource when err is
// not a domain error (fail closed: treat unknown errors as cancel-worthy).
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindResource
}

// Retriable reports whether err's kind should be retried by a backoff loop.
func Retriable(err error) bool {
	return KindOf(err) == KindTransient
}
