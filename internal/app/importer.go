package app

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"staysync/internal/adapters/observability"
	"staysync/internal/domain"
	"staysync/internal/normalize"
)

// ImportRow pairs a normalized candidate with its 1-based spreadsheet row for
// operator traceability.
type ImportRow struct {
	Row       int
	Candidate domain.CandidateBooking
}

// ImportSummary reports what one property's run did with its rows.
type ImportSummary struct {
	BatchID      string
	Property     string
	Rows         int
	Created      int
	Unchanged    int
	AutoResolved int
	Conflicts    int
	Errors       []domain.ResolutionError
}

// ImportService drives import runs: detect, auto-apply what is safe, queue
// the rest for review, create what is new. Rows within one run are processed
// strictly in file order; a row may depend on a booking created by the row
// before it.
type ImportService struct {
	repo      domain.BookingRepository
	conflicts domain.ConflictStore
	detector  *Detector
	alloc     *CodeAllocator
	cache     domain.Cache

	// Paces row processing against the shared database; nil means unpaced.
	limiter *rate.Limiter

	// Conflict indexes are allocated per batch; different properties of the
	// same batch may run concurrently.
	mu      sync.Mutex
	nextIdx map[string]int
}

func NewImportService(repo domain.BookingRepository, conflicts domain.ConflictStore, alloc *CodeAllocator, cache domain.Cache, limiter *rate.Limiter) *ImportService {
	return &ImportService{
		repo:      repo,
		conflicts: conflicts,
		detector:  NewDetector(repo),
		alloc:     alloc,
		cache:     cache,
		limiter:   limiter,
		nextIdx:   make(map[string]int),
	}
}

// Run processes one property's rows for a batch, in order.
func (s *ImportService) Run(ctx context.Context, batchID string, prop domain.Property, rows []ImportRow) ImportSummary {
	sum := ImportSummary{BatchID: batchID, Property: prop.Name, Rows: len(rows)}

	for _, row := range rows {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				sum.Errors = append(sum.Errors, domain.ResolutionError{Row: row.Row, Message: err.Error()})
				break
			}
		}
		if err := s.processRow(ctx, batchID, prop, row, &sum); err != nil {
			sum.Errors = append(sum.Errors, domain.ResolutionError{Row: row.Row, Message: err.Error()})
			observability.ObserveRow("error")
			log.Warn().Str("batch", batchID).Int("row", row.Row).Err(err).Msg("import row failed")
		}
	}

	if s.cache != nil {
		_ = s.cache.Del(ctx, conflictsCacheKey(batchID))
	}
	return sum
}

func (s *ImportService) processRow(ctx context.Context, batchID string, prop domain.Property, row ImportRow, sum *ImportSummary) error {
	det, err := s.detector.Detect(ctx, row.Candidate, prop, row.Row)
	if err != nil {
		return err
	}

	switch {
	case det.Existing == nil:
		if err := s.createFromCandidate(ctx, prop, row.Candidate); err != nil {
			return err
		}
		sum.Created++
		observability.ObserveRow("created")

	case !det.HasConflicts:
		sum.Unchanged++
		observability.ObserveRow("unchanged")

	case det.AutoResolve:
		if err := s.autoApplyStatus(ctx, det); err != nil {
			return err
		}
		sum.AutoResolved++
		observability.ObserveRow("auto_resolved")

	default:
		for _, t := range det.Conflict.Types {
			observability.ObserveConflict(string(t))
		}
		if err := s.queueConflict(ctx, batchID, det.Conflict); err != nil {
			return err
		}
		sum.Conflicts++
		observability.ObserveRow("conflict")
	}
	return nil
}

func (s *ImportService) createFromCandidate(ctx context.Context, prop domain.Property, c domain.CandidateBooking) error {
	src := normalize.Source(c.Source)
	code, err := s.alloc.Allocate(ctx, c.ExternalCode, prop.ID, src)
	if err != nil {
		return err
	}

	b := &domain.Booking{
		PropertyID:     prop.ID,
		Source:         src,
		ExternalCode:   code,
		GuestName:      c.GuestName,
		StartDate:      c.StartDate,
		EndDate:        c.EndDate,
		ExternalStatus: c.ExternalStatus,
		Status:         domain.DeriveStatus(c.ExternalStatus),
		GuestEmail:     c.GuestEmail,
		GuestPhone:     c.GuestPhone,
		Earnings:       c.Earnings,
	}
	audit := []domain.AuditEntry{{
		Field:          "external_code",
		OldValue:       "",
		NewValue:       code,
		Classification: "import_create",
		Actor:          "import",
	}}
	_, err = s.repo.CreateBooking(ctx, b, audit)
	return err
}

// autoApplyStatus handles the one safe case: a status-only change from a
// platform of record. The detector has already vetoed Direct/Owner sources
// and any multi-dimension difference.
func (s *ImportService) autoApplyStatus(ctx context.Context, det Detection) error {
	newStatus := det.Conflict.Candidate.ExternalStatus
	fields := map[string]any{
		"external_status": newStatus,
		"status":          string(domain.DeriveStatus(newStatus)),
	}
	audit := []domain.AuditEntry{{
		BookingID:      det.Existing.ID,
		Field:          "external_status",
		OldValue:       det.Existing.ExternalStatus,
		NewValue:       newStatus,
		Classification: "auto_status_sync",
		Actor:          "import",
	}}
	return s.repo.UpdateBooking(ctx, det.Existing.ID, fields, audit)
}

func (s *ImportService) queueConflict(ctx context.Context, batchID string, desc *domain.ConflictDescriptor) error {
	s.mu.Lock()
	idx := s.nextIdx[batchID]
	s.nextIdx[batchID] = idx + 1
	s.mu.Unlock()

	report := domain.ConflictReport{
		BatchID: batchID,
		Index:   idx,
		Row:     desc.Row,
		Payload: SerializeConflict(desc),
	}
	if err := s.conflicts.SaveConflict(ctx, report); err != nil {
		return fmt.Errorf("save conflict %d: %w", idx, err)
	}
	return nil
}
