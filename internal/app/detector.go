package app

import (
	"context"
	"errors"
	"fmt"

	"staysync/internal/domain"
	"staysync/internal/normalize"
)

// Detection is the detector's answer for one candidate row.
// Existing is nil for brand-new bookings; Conflict is nil when the row
// matched but every compared field agrees.
type Detection struct {
	HasConflicts bool
	AutoResolve  bool
	Conflict     *domain.ConflictDescriptor
	Existing     *domain.Booking
}

type Detector struct {
	repo domain.BookingRepository
}

func NewDetector(repo domain.BookingRepository) *Detector {
	return &Detector{repo: repo}
}

// Detect compares an incoming candidate against the stored booking matched by
// (property, normalized source, external code). The comparison always runs
// against current stored state, which is what makes repeated imports
// idempotent: a change applied by an earlier pass simply stops differing.
func (d *Detector) Detect(ctx context.Context, cand domain.CandidateBooking, prop domain.Property, row int) (Detection, error) {
	src := normalize.Source(cand.Source)

	existing, err := d.repo.FindByScope(ctx, prop.ID, src, cand.ExternalCode)
	propertyMoved := false
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAmbiguousBooking):
		return Detection{}, fmt.Errorf("row %d: scope (%d, %s, %s): %w",
			row, prop.ID, src, cand.ExternalCode, domain.ErrAmbiguousBooking)
	case errors.Is(err, domain.ErrNotFound):
		// The same (source, code) pair under a different property means the
		// listing was reassigned upstream, not a new reservation. More than
		// one cross-property match is legitimate (codes are only unique per
		// scope), so only a single match is treated as a move.
		matches, ferr := d.repo.FindBySourceCode(ctx, src, cand.ExternalCode)
		if ferr != nil {
			return Detection{}, fmt.Errorf("row %d: cross-property lookup: %w", row, ferr)
		}
		if len(matches) != 1 {
			return Detection{}, nil // new booking, not a conflict
		}
		b := matches[0]
		existing = &b
		propertyMoved = true
	default:
		return Detection{}, fmt.Errorf("row %d: scope lookup: %w", row, err)
	}

	existingProp := prop
	if existing.PropertyID != prop.ID {
		p, perr := d.repo.GetProperty(ctx, existing.PropertyID)
		if perr != nil {
			return Detection{}, fmt.Errorf("row %d: load property %d: %w", row, existing.PropertyID, perr)
		}
		existingProp = *p
	}

	desc := &domain.ConflictDescriptor{
		Existing:          existing,
		Candidate:         cand,
		CandidateProperty: prop,
		ExistingProperty:  existingProp,
		Row:               row,
	}

	// Day granularity: clock components drift with timezone normalization.
	if !domain.SameDay(cand.StartDate, existing.StartDate) || !domain.SameDay(cand.EndDate, existing.EndDate) {
		desc.Types = append(desc.Types, domain.ConflictDateChange)
	}

	// Raw, case-sensitive: upstream platforms use casing meaningfully.
	if cand.ExternalStatus != existing.ExternalStatus {
		desc.Types = append(desc.Types, domain.ConflictStatusChange)
	}

	// Any verbatim difference counts; the analysis only explains it.
	if cand.GuestName != existing.GuestName {
		desc.Types = append(desc.Types, domain.ConflictGuestChange)
		nd := normalize.AnalyzeNameDifference(existing.GuestName, cand.GuestName)
		desc.NameDiff = &nd
	}

	if propertyMoved {
		desc.Types = append(desc.Types, domain.ConflictPropertyChange)
	}

	if len(desc.Types) == 0 {
		return Detection{Existing: existing}, nil
	}

	desc.Confidence = confidence(desc)
	desc.AutoResolve = autoResolvable(desc.Types, src)

	return Detection{
		HasConflicts: true,
		AutoResolve:  desc.AutoResolve,
		Conflict:     desc,
		Existing:     existing,
	}, nil
}

// autoResolvable: only a status-only change from a platform of record may be
// applied without review. Direct and Owner bookings have no external platform
// to trust, so they always queue.
func autoResolvable(types []domain.ConflictType, source string) bool {
	if len(types) != 1 || types[0] != domain.ConflictStatusChange {
		return false
	}
	return source != "Direct" && source != "Owner"
}

// confidence scores how certain we are that candidate and stored record
// describe the same reservation. Status-only differences cost nothing; a
// property move or a substantive guest change cost the most.
func confidence(d *domain.ConflictDescriptor) float64 {
	c := 1.0
	for _, t := range d.Types {
		switch t {
		case domain.ConflictDateChange:
			c -= 0.10
		case domain.ConflictPropertyChange:
			c -= 0.40
		case domain.ConflictGuestChange:
			if d.NameDiff == nil {
				c -= 0.50
				break
			}
			switch d.NameDiff.Type {
			case normalize.ChangeEncodingCorrection, normalize.ChangeDiacriticsOnly:
				c -= 0.05
			case normalize.ChangeMinorCorrection:
				c -= 0.15
			default:
				c -= 0.50
			}
		}
	}
	if c < 0 {
		c = 0
	}
	return c
}
