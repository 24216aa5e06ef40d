// Package provider implements the upstream market data sources and the
// rate-limited REST client they share.
package provider

import (
	"context"

	"marketpulse/internal/errors"
	"marketpulse/internal/models"
)

// ResultKind classifies the outcome of a source lookup.
type ResultKind int

const (
	// KindSuccess carries a snapshot.
	KindSuccess ResultKind = iota
	// KindNotFound means the source does not know the symbol.
	KindNotFound
	// KindTransient means the source failed in a way a fallback should absorb.
	KindTransient
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindNotFound:
		return "not_found"
	case KindTransient:
		return "transient"
	}
	return "unknown"
}

// Result is the tagged outcome of Source.Quote.
type Result struct {
	Kind     ResultKind
	Snapshot models.Snapshot
	Err      error
}

// Success wraps a snapshot.
func Success(snap models.Snapshot) Result {
	return Result{Kind: KindSuccess, Snapshot: snap}
}

// NotFound reports an unknown symbol.
func NotFound(err error) Result {
	if err == nil {
		err = errors.ErrSymbolNotFound
	}
	return Result{Kind: KindNotFound, Err: err}
}

// Transient reports a recoverable upstream failure.
func Transient(err error) Result {
	return Result{Kind: KindTransient, Err: err}
}

// Classify maps an error onto a result kind.
func Classify(err error) Result {
	if errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrSymbolNotFound) {
		return NotFound(err)
	}
	return Transient(err)
}

// Source is an upstream that can quote a single symbol.
type Source interface {
	Name() string
	Quote(ctx context.Context, symbol string) Result
}
