package domain

import (
	"strings"
	"time"
)

// Property is a rental listing. Bookings are scoped to exactly one property.
type Property struct {
	ID   int64
	Name string
}

// Booking is the persisted reservation of record. Within one
// (property, normalized source) pair the external code is unique; that
// invariant is enforced at creation time by the code allocator, never by
// rewriting rows that already exist.
type Booking struct {
	ID           int64
	PropertyID   int64
	Source       string // normalized, e.g. "Airbnb"
	ExternalCode string
	GuestName    string
	StartDate    time.Time
	EndDate      time.Time

	// ExternalStatus is the verbatim upstream status string; Status is our
	// own derived enumeration and never compared against spreadsheet data.
	ExternalStatus string
	Status         BookingStatus

	GuestEmail *string
	GuestPhone *string
	Earnings   *float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// CandidateBooking is one normalized spreadsheet row, not yet reconciled
// against storage. The parsing layer owns row-shape validation; by the time a
// candidate reaches this package it has an external code and both dates.
type CandidateBooking struct {
	ExternalCode   string
	GuestName      string
	Source         string // raw, pre-normalization
	PropertyName   string
	StartDate      time.Time
	EndDate        time.Time
	ExternalStatus string

	GuestEmail *string
	GuestPhone *string
	Earnings   *float64
}

type BookingStatus string

const (
	StatusPending   BookingStatus = "pending"
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
)

// DeriveStatus maps an upstream status string onto the internal enumeration.
// The raw string is still stored verbatim in ExternalStatus.
func DeriveStatus(externalStatus string) BookingStatus {
	s := strings.ToLower(strings.TrimSpace(externalStatus))
	switch {
	case s == "":
		return StatusPending
	case strings.Contains(s, "cancel"), strings.Contains(s, "declin"), strings.Contains(s, "expire"):
		return StatusCancelled
	case strings.Contains(s, "checked out"), strings.Contains(s, "complete"), strings.Contains(s, "past guest"):
		return StatusCompleted
	case strings.Contains(s, "confirm"), strings.Contains(s, "accept"), strings.Contains(s, "book"),
		s == "ok", strings.Contains(s, "reserv"), strings.Contains(s, "currently hosting"):
		return StatusConfirmed
	default:
		return StatusPending
	}
}

// SameDay compares two timestamps at day granularity in UTC. Import rows and
// stored rows may carry different clock components after timezone
// normalization; only the calendar day is meaningful for stay dates.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
