package app

import (
	"time"

	"staysync/internal/domain"
)

const dateLayout = "2006-01-02"

// SerializeConflict projects a descriptor into a mapping of JSON primitives,
// safe to persist as an opaque blob. No live entities are embedded: the
// stored booking flattens to its own fields and property references become
// {id, str} pairs. conflict_types is always a list of strings and
// changes_summary a nested mapping keyed by field name; downstream consumers
// index into both.
func SerializeConflict(d *domain.ConflictDescriptor) map[string]any {
	return map[string]any{
		"row_number":       d.Row,
		"conflict_types":   conflictTypeStrings(d.Types),
		"auto_resolve":     d.AutoResolve,
		"confidence":       d.Confidence,
		"existing_booking": serializeBooking(d.Existing, d.ExistingProperty),
		"excel_data":       serializeCandidate(d.Candidate, d.CandidateProperty),
		"changes_summary":  changesSummary(d),
	}
}

func conflictTypeStrings(types []domain.ConflictType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func serializeBooking(b *domain.Booking, prop domain.Property) map[string]any {
	return map[string]any{
		"id":              b.ID,
		"property":        propertyRef(prop),
		"source":          b.Source,
		"external_code":   b.ExternalCode,
		"guest_name":      b.GuestName,
		"start_date":      b.StartDate.UTC().Format(dateLayout),
		"end_date":        b.EndDate.UTC().Format(dateLayout),
		"external_status": b.ExternalStatus,
		"status":          string(b.Status),
		"guest_email":     strOrNil(b.GuestEmail),
		"guest_phone":     strOrNil(b.GuestPhone),
		"earnings":        floatOrNil(b.Earnings),
		"created_at":      b.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":      b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func serializeCandidate(c domain.CandidateBooking, prop domain.Property) map[string]any {
	return map[string]any{
		"external_code":   c.ExternalCode,
		"guest_name":      c.GuestName,
		"source":          c.Source,
		"property":        propertyRef(prop),
		"property_name":   c.PropertyName,
		"start_date":      c.StartDate.UTC().Format(dateLayout),
		"end_date":        c.EndDate.UTC().Format(dateLayout),
		"external_status": c.ExternalStatus,
		"guest_email":     strOrNil(c.GuestEmail),
		"guest_phone":     strOrNil(c.GuestPhone),
		"earnings":        floatOrNil(c.Earnings),
	}
}

func changesSummary(d *domain.ConflictDescriptor) map[string]any {
	out := make(map[string]any, len(d.Types))
	for _, t := range d.Types {
		switch t {
		case domain.ConflictStatusChange:
			out["status"] = map[string]any{
				"current": d.Existing.ExternalStatus,
				"excel":   d.Candidate.ExternalStatus,
			}
		case domain.ConflictDateChange:
			out["dates"] = map[string]any{
				"current_start": d.Existing.StartDate.UTC().Format(dateLayout),
				"current_end":   d.Existing.EndDate.UTC().Format(dateLayout),
				"excel_start":   d.Candidate.StartDate.UTC().Format(dateLayout),
				"excel_end":     d.Candidate.EndDate.UTC().Format(dateLayout),
			}
		case domain.ConflictGuestChange:
			g := map[string]any{
				"current": d.Existing.GuestName,
				"excel":   d.Candidate.GuestName,
			}
			if d.NameDiff != nil {
				g["change_type"] = d.NameDiff.Type
				g["likely_encoding_issue"] = d.NameDiff.LikelyEncodingIssue
			}
			out["guest"] = g
		case domain.ConflictPropertyChange:
			out["property"] = map[string]any{
				"current": propertyRef(d.ExistingProperty),
				"excel":   propertyRef(d.CandidateProperty),
			}
		}
	}
	return out
}

func propertyRef(p domain.Property) map[string]any {
	return map[string]any{"id": p.ID, "str": p.Name}
}

func strOrNil(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func floatOrNil(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
