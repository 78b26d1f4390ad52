package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"staysync/internal/adapters/observability"
	"staysync/internal/domain"
	"staysync/internal/normalize"
)

// Fields a reviewer may copy from the candidate onto the stored booking.
// An explicit list, not reflection over the model: only these participate in
// conflict detection and resolution.
var resolvableFields = map[string]bool{
	"guest_name":      true,
	"start_date":      true,
	"end_date":        true,
	"external_status": true,
	"property":        true,
	"guest_email":     true,
	"guest_phone":     true,
	"earnings":        true,
}

// Resolver applies reviewer decisions to stored bookings. Each resolution is
// its own transaction boundary; one bad row never rolls back the rest of the
// batch.
type Resolver struct {
	repo      domain.BookingRepository
	conflicts domain.ConflictStore
	alloc     *CodeAllocator
	cache     domain.Cache
}

func NewResolver(repo domain.BookingRepository, conflicts domain.ConflictStore, alloc *CodeAllocator, cache domain.Cache) *Resolver {
	return &Resolver{repo: repo, conflicts: conflicts, alloc: alloc, cache: cache}
}

// ResolveConflicts applies a batch of decisions. actor identifies who is
// resolving (reviewer login, or "auto" for machine-applied changes) and is
// passed explicitly rather than read from ambient state.
func (r *Resolver) ResolveConflicts(ctx context.Context, batchID string, resolutions []domain.Resolution, actor string) domain.ResolutionOutcome {
	var out domain.ResolutionOutcome

	for _, res := range resolutions {
		report, err := r.conflicts.GetConflict(ctx, batchID, res.ConflictIndex)
		if err != nil {
			out.Errors = append(out.Errors, domain.ResolutionError{
				Message: fmt.Sprintf("conflict %d: %v", res.ConflictIndex, err),
			})
			observability.ObserveResolution(string(res.Action), "error")
			continue
		}

		switch res.Action {
		case domain.ActionSkip:
			err = r.conflicts.MarkResolved(ctx, batchID, res.ConflictIndex, res.Action)
			if err == nil {
				out.Skipped++
			}
		case domain.ActionUpdateExisting:
			err = r.applyUpdate(ctx, report, res.ApplyChanges, actor)
			if err == nil {
				out.Updated++
				err = r.conflicts.MarkResolved(ctx, batchID, res.ConflictIndex, res.Action)
			}
		case domain.ActionCreateNew:
			err = r.applyCreate(ctx, report, actor)
			if err == nil {
				out.Created++
				err = r.conflicts.MarkResolved(ctx, batchID, res.ConflictIndex, res.Action)
			}
		default:
			err = fmt.Errorf("unknown action %q", res.Action)
		}

		if err != nil {
			out.Errors = append(out.Errors, domain.ResolutionError{Row: report.Row, Message: err.Error()})
			observability.ObserveResolution(string(res.Action), "error")
			log.Warn().Str("batch", batchID).Int("row", report.Row).Err(err).Msg("resolution failed")
			continue
		}
		observability.ObserveResolution(string(res.Action), "ok")
	}

	if r.cache != nil {
		_ = r.cache.Del(ctx, conflictsCacheKey(batchID))
	}
	return out
}

// applyUpdate copies the accepted fields from the serialized candidate onto
// the stored booking. Comparisons run against *current* stored state, so a
// field an earlier pass already applied is silently dropped instead of
// producing a duplicate audit entry.
func (r *Resolver) applyUpdate(ctx context.Context, report *domain.ConflictReport, applyChanges []string, actor string) error {
	payload := report.Payload

	id := payloadInt64(payload, "existing_booking", "id")
	if id == 0 {
		return fmt.Errorf("conflict payload has no existing booking id")
	}
	current, err := r.repo.GetBooking(ctx, id)
	if err != nil {
		return fmt.Errorf("booking %d: %w", id, err)
	}

	fields := make(map[string]any)
	var audit []domain.AuditEntry
	record := func(field, old, new_, classification string) {
		audit = append(audit, domain.AuditEntry{
			BookingID:      id,
			Field:          field,
			OldValue:       old,
			NewValue:       new_,
			Classification: classification,
			Actor:          actor,
		})
	}

	for _, f := range applyChanges {
		if !resolvableFields[f] {
			return fmt.Errorf("field %q is not resolvable", f)
		}
		switch f {
		case "guest_name":
			nv := payloadStr(payload, "excel_data", "guest_name")
			if nv == current.GuestName {
				continue
			}
			fields["guest_name"] = nv
			record("guest_name", current.GuestName, nv, guestClassification(payload))

		case "external_status":
			nv := payloadStr(payload, "excel_data", "external_status")
			if nv == current.ExternalStatus {
				continue
			}
			fields["external_status"] = nv
			fields["status"] = string(domain.DeriveStatus(nv))
			record("external_status", current.ExternalStatus, nv, "manual_review")

		case "start_date":
			nv, ok := payloadDate(payload, "excel_data", "start_date")
			if !ok {
				return fmt.Errorf("candidate start_date missing or malformed")
			}
			if domain.SameDay(nv, current.StartDate) {
				continue
			}
			fields["start_date"] = nv
			record("start_date", current.StartDate.UTC().Format(dateLayout), nv.Format(dateLayout), "manual_review")

		case "end_date":
			nv, ok := payloadDate(payload, "excel_data", "end_date")
			if !ok {
				return fmt.Errorf("candidate end_date missing or malformed")
			}
			if domain.SameDay(nv, current.EndDate) {
				continue
			}
			fields["end_date"] = nv
			record("end_date", current.EndDate.UTC().Format(dateLayout), nv.Format(dateLayout), "manual_review")

		case "property":
			pid := payloadInt64(payload, "excel_data", "property", "id")
			if pid == 0 || pid == current.PropertyID {
				continue
			}
			fields["property_id"] = pid
			record("property",
				fmt.Sprintf("%d", current.PropertyID), fmt.Sprintf("%d", pid), "manual_review")

		case "guest_email":
			nv := payloadStrPtr(payload, "excel_data", "guest_email")
			if equalStrPtr(nv, current.GuestEmail) {
				continue
			}
			fields["guest_email"] = strOrNil(nv)
			record("guest_email", derefStr(current.GuestEmail), derefStr(nv), "manual_review")

		case "guest_phone":
			nv := payloadStrPtr(payload, "excel_data", "guest_phone")
			if equalStrPtr(nv, current.GuestPhone) {
				continue
			}
			fields["guest_phone"] = strOrNil(nv)
			record("guest_phone", derefStr(current.GuestPhone), derefStr(nv), "manual_review")

		case "earnings":
			nv := payloadFloatPtr(payload, "excel_data", "earnings")
			if equalFloatPtr(nv, current.Earnings) {
				continue
			}
			fields["earnings"] = floatOrNil(nv)
			record("earnings", formatFloatPtr(current.Earnings), formatFloatPtr(nv), "manual_review")
		}
	}

	if len(fields) == 0 {
		return nil // everything accepted was already applied by an earlier pass
	}
	return r.repo.UpdateBooking(ctx, id, fields, audit)
}

// applyCreate builds a brand-new booking from the serialized candidate. The
// allocator decides the final code: a taken code gets the next free suffix
// instead of failing or overwriting.
func (r *Resolver) applyCreate(ctx context.Context, report *domain.ConflictReport, actor string) error {
	payload := report.Payload

	propID := payloadInt64(payload, "excel_data", "property", "id")
	if propID == 0 {
		return fmt.Errorf("conflict payload has no candidate property id")
	}
	src := normalize.Source(payloadStr(payload, "excel_data", "source"))
	desired := payloadStr(payload, "excel_data", "external_code")
	if desired == "" {
		return fmt.Errorf("conflict payload has no external code")
	}

	code, err := r.alloc.Allocate(ctx, desired, propID, src)
	if err != nil {
		return err
	}

	start, okS := payloadDate(payload, "excel_data", "start_date")
	end, okE := payloadDate(payload, "excel_data", "end_date")
	if !okS || !okE {
		return fmt.Errorf("candidate dates missing or malformed")
	}

	extStatus := payloadStr(payload, "excel_data", "external_status")
	b := &domain.Booking{
		PropertyID:     propID,
		Source:         src,
		ExternalCode:   code,
		GuestName:      payloadStr(payload, "excel_data", "guest_name"),
		StartDate:      start,
		EndDate:        end,
		ExternalStatus: extStatus,
		Status:         domain.DeriveStatus(extStatus),
		GuestEmail:     payloadStrPtr(payload, "excel_data", "guest_email"),
		GuestPhone:     payloadStrPtr(payload, "excel_data", "guest_phone"),
		Earnings:       payloadFloatPtr(payload, "excel_data", "earnings"),
	}

	audit := []domain.AuditEntry{{
		Field:          "external_code",
		OldValue:       "",
		NewValue:       code,
		Classification: "create_new",
		Actor:          actor,
	}}
	_, err = r.repo.CreateBooking(ctx, b, audit)
	return err
}

// guestClassification pulls the name analysis recorded at detection time so
// the audit trail explains *why* a guest-name change was accepted.
func guestClassification(payload map[string]any) string {
	if c := payloadStr(payload, "changes_summary", "guest", "change_type"); c != "" {
		return c
	}
	return "manual_review"
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func equalStrPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalFloatPtr(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func formatFloatPtr(p *float64) string {
	if p == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *p)
}
