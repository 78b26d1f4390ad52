package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound signals a scope lookup that matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousBooking signals more than one stored booking for a scope
	// key that is supposed to be unique. The detector surfaces it instead of
	// guessing which record to compare against.
	ErrAmbiguousBooking = errors.New("ambiguous booking scope")

	// ErrCodeSpaceExhausted is returned by the code allocator past its
	// suffix sanity cap.
	ErrCodeSpaceExhausted = errors.New("booking code space exhausted")
)

type BookingRepository interface {
	// Write paths. Mutations take the audit entries that explain them and
	// persist both inside one transaction, so a half-applied resolution can
	// never leave an unexplained field value behind.
	CreateBooking(ctx context.Context, b *Booking, audit []AuditEntry) (int64, error)
	UpdateBooking(ctx context.Context, id int64, fields map[string]any, audit []AuditEntry) error

	// Read paths. FindByScope keys on (property, normalized source, external
	// code) and returns ErrNotFound / ErrAmbiguousBooking accordingly.
	// FindBySourceCode is the cross-property fallback used to spot listings
	// reassigned upstream.
	GetBooking(ctx context.Context, id int64) (*Booking, error)
	FindByScope(ctx context.Context, propertyID int64, source, code string) (*Booking, error)
	FindBySourceCode(ctx context.Context, source, code string) ([]Booking, error)
	CodeInUse(ctx context.Context, propertyID int64, source, code string) (bool, error)

	GetProperty(ctx context.Context, id int64) (*Property, error)
	FindPropertyByName(ctx context.Context, name string) (*Property, error)
}

// ConflictStore persists serialized conflict reports between detection and
// human review. Payloads are opaque JSON-safe mappings produced by the
// conflict serializer.
type ConflictStore interface {
	SaveConflict(ctx context.Context, r ConflictReport) error
	ListConflicts(ctx context.Context, batchID string) ([]ConflictReport, error)
	GetConflict(ctx context.Context, batchID string, index int) (*ConflictReport, error)
	MarkResolved(ctx context.Context, batchID string, index int, action ResolutionAction) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}
