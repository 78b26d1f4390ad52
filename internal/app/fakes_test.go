package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"staysync/internal/domain"
)

// In-memory doubles for the repository, conflict store and cache ports.
// The conflict store JSON round-trips payloads on save, the same way the
// MySQL store does, so tests exercise the float64-after-unmarshal path.

type fakeRepo struct {
	mu       sync.Mutex
	nextID   int64
	bookings map[int64]*domain.Booking
	props    map[int64]domain.Property
	audits   []domain.AuditEntry

	failUpdateID int64 // UpdateBooking on this id fails, when non-zero
}

func newFakeRepo(props ...domain.Property) *fakeRepo {
	r := &fakeRepo{
		bookings: make(map[int64]*domain.Booking),
		props:    make(map[int64]domain.Property),
	}
	for _, p := range props {
		r.props[p.ID] = p
	}
	return r
}

func (r *fakeRepo) seed(b domain.Booking) *domain.Booking {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	b.ID = r.nextID
	cp := b
	r.bookings[cp.ID] = &cp
	out := cp
	return &out
}

func (r *fakeRepo) CreateBooking(_ context.Context, b *domain.Booking, audit []domain.AuditEntry) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	b.ID = r.nextID
	cp := *b
	r.bookings[cp.ID] = &cp
	for _, a := range audit {
		if a.BookingID == 0 {
			a.BookingID = cp.ID
		}
		r.audits = append(r.audits, a)
	}
	return cp.ID, nil
}

func (r *fakeRepo) UpdateBooking(_ context.Context, id int64, fields map[string]any, audit []domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdateID != 0 && id == r.failUpdateID {
		return fmt.Errorf("update booking %d: injected failure", id)
	}
	b, ok := r.bookings[id]
	if !ok {
		return domain.ErrNotFound
	}
	for k, v := range fields {
		switch k {
		case "guest_name":
			b.GuestName = v.(string)
		case "external_status":
			b.ExternalStatus = v.(string)
		case "status":
			b.Status = domain.BookingStatus(v.(string))
		case "start_date":
			b.StartDate = v.(time.Time)
		case "end_date":
			b.EndDate = v.(time.Time)
		case "property_id":
			b.PropertyID = v.(int64)
		case "guest_email":
			b.GuestEmail = strPtrOf(v)
		case "guest_phone":
			b.GuestPhone = strPtrOf(v)
		case "earnings":
			b.Earnings = floatPtrOf(v)
		default:
			return fmt.Errorf("unexpected field %q", k)
		}
	}
	r.audits = append(r.audits, audit...)
	return nil
}

func strPtrOf(v any) *string {
	if v == nil {
		return nil
	}
	s := v.(string)
	return &s
}

func floatPtrOf(v any) *float64 {
	if v == nil {
		return nil
	}
	f := v.(float64)
	return &f
}

func (r *fakeRepo) GetBooking(_ context.Context, id int64) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *fakeRepo) FindByScope(_ context.Context, propertyID int64, source, code string) (*domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []*domain.Booking
	for _, b := range r.bookings {
		if b.PropertyID == propertyID && b.Source == source && b.ExternalCode == code {
			matches = append(matches, b)
		}
	}
	switch len(matches) {
	case 0:
		return nil, domain.ErrNotFound
	case 1:
		cp := *matches[0]
		return &cp, nil
	default:
		return nil, domain.ErrAmbiguousBooking
	}
}

func (r *fakeRepo) FindBySourceCode(_ context.Context, source, code string) ([]domain.Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.bookings {
		if b.Source == source && b.ExternalCode == code {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *fakeRepo) CodeInUse(_ context.Context, propertyID int64, source, code string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, b := range r.bookings {
		if b.PropertyID == propertyID && b.Source == source && b.ExternalCode == code {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeRepo) GetProperty(_ context.Context, id int64) (*domain.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.props[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *fakeRepo) FindPropertyByName(_ context.Context, name string) (*domain.Property, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.props {
		if p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

type fakeConflicts struct {
	mu        sync.Mutex
	reports   map[string]map[int]*domain.ConflictReport
	listCalls int
}

func newFakeConflicts() *fakeConflicts {
	return &fakeConflicts{reports: make(map[string]map[int]*domain.ConflictReport)}
}

func (c *fakeConflicts) SaveConflict(_ context.Context, r domain.ConflictReport) error {
	raw, err := json.Marshal(r.Payload)
	if err != nil {
		return err
	}
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	r.Payload = payload

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reports[r.BatchID] == nil {
		c.reports[r.BatchID] = make(map[int]*domain.ConflictReport)
	}
	c.reports[r.BatchID][r.Index] = &r
	return nil
}

func (c *fakeConflicts) ListConflicts(_ context.Context, batchID string) ([]domain.ConflictReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listCalls++
	var out []domain.ConflictReport
	for _, r := range c.reports[batchID] {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (c *fakeConflicts) GetConflict(_ context.Context, batchID string, index int) (*domain.ConflictReport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[batchID][index]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (c *fakeConflicts) MarkResolved(_ context.Context, batchID string, index int, action domain.ResolutionAction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[batchID][index]
	if !ok {
		return domain.ErrNotFound
	}
	r.Resolved = true
	a := string(action)
	r.Action = &a
	return nil
}

// fakeCache stores marshaled JSON so Get sees the same shapes a Redis round
// trip would produce.
type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (c *fakeCache) Set(_ context.Context, key string, v any, _ int) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}
