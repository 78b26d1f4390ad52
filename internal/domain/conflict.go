package domain

import (
	"staysync/internal/normalize"
)

// ConflictType tags one dimension on which a candidate row disagrees with the
// stored booking it matched.
type ConflictType string

const (
	ConflictDateChange     ConflictType = "date_change"
	ConflictStatusChange   ConflictType = "status_change"
	ConflictGuestChange    ConflictType = "guest_change"
	ConflictPropertyChange ConflictType = "property_change"
)

// ConflictDescriptor is the detector's verdict for one row that matched an
// existing booking and differs from it. It lives only for the duration of an
// import pass: it is either applied immediately (auto-resolve) or serialized
// into a report and discarded.
type ConflictDescriptor struct {
	Existing  *Booking
	Candidate CandidateBooking

	// CandidateProperty is the property the import run resolved for the row.
	// It differs from ExistingProperty when the upstream platform moved the
	// reservation to another listing.
	CandidateProperty Property
	ExistingProperty  Property

	Types      []ConflictType
	Confidence float64
	Row        int // 1-based spreadsheet row, for operator traceability

	// NameDiff explains a guest_change for the reviewer; it is auxiliary
	// analysis, not a conflict dimension of its own.
	NameDiff *normalize.NameDifference

	// AutoResolve is derived from Types and the normalized source, never set
	// independently.
	AutoResolve bool
}

// HasType reports whether the descriptor carries the given tag.
func (d *ConflictDescriptor) HasType(t ConflictType) bool {
	for _, ct := range d.Types {
		if ct == t {
			return true
		}
	}
	return false
}

// ConflictReport is a persisted projection of a serialized descriptor,
// addressable by (batch, index) so resolutions can reference it later.
type ConflictReport struct {
	BatchID  string
	Index    int
	Row      int
	Payload  map[string]any
	Resolved bool
	Action   *string
}

type ResolutionAction string

const (
	ActionUpdateExisting ResolutionAction = "update_existing"
	ActionCreateNew      ResolutionAction = "create_new"
	ActionSkip           ResolutionAction = "skip"
)

// Resolution is one reviewer (or automatic) decision for a stored conflict.
// ApplyChanges lists the field names to copy from the candidate onto the
// stored booking; a reviewer may accept the status change and reject the
// guest-name change from the same row.
type Resolution struct {
	ConflictIndex int
	Action        ResolutionAction
	ApplyChanges  []string
}

type ResolutionError struct {
	Row     int
	Message string
}

// ResolutionOutcome summarizes one batch of resolutions. Errors are collected
// per resolution; a failed row never aborts the rest of the batch.
type ResolutionOutcome struct {
	Updated int
	Created int
	Skipped int
	Errors  []ResolutionError
}

// AuditEntry records the provenance of a single applied field change.
// Storage of the audit trail belongs to the surrounding system; this package
// only defines the record shape and requires one entry per field written.
type AuditEntry struct {
	BookingID      int64
	Field          string
	OldValue       string
	NewValue       string
	Classification string // e.g. "encoding_correction", "auto_status_sync", "manual_review"
	Actor          string
}
