package app

import (
	"context"
	"fmt"
	"sync"

	"staysync/internal/adapters/observability"
	"staysync/internal/domain"
	"staysync/internal/normalize"
)

// DefaultCodeSuffixCap bounds the allocator's probe sequence. Real data never
// gets anywhere near it; hitting the cap means the scope is pathological and
// failing loudly beats looping forever.
const DefaultCodeSuffixCap = 1000

// CodeAllocator finds an external booking code that is free within a
// (property, normalized source) scope, suffixing "CODE #2", "CODE #3", ...
// on collision. It queries current usage on every probe rather than keeping a
// counter, so repeated imports and unrelated bookings sharing a desired code
// can never silently overwrite each other.
type CodeAllocator struct {
	repo domain.BookingRepository
	cap  int

	// Codes handed out earlier in the current process but possibly not yet
	// visible through the repository (between Allocate and the row's create).
	// Rows within one import run are processed in file order, so this keeps
	// the allocator's view consistent with everything the run already did.
	mu       sync.Mutex
	reserved map[string]struct{}
}

func NewCodeAllocator(repo domain.BookingRepository, suffixCap int) *CodeAllocator {
	if suffixCap <= 0 {
		suffixCap = DefaultCodeSuffixCap
	}
	return &CodeAllocator{
		repo:     repo,
		cap:      suffixCap,
		reserved: make(map[string]struct{}),
	}
}

// Allocate returns the desired code unchanged when free in scope, otherwise
// the first unused "#n" variant. Returns domain.ErrCodeSpaceExhausted past
// the sanity cap.
func (a *CodeAllocator) Allocate(ctx context.Context, desired string, propertyID int64, source string) (string, error) {
	src := normalize.Source(source)

	for n := 1; n <= a.cap; n++ {
		code := desired
		if n > 1 {
			code = fmt.Sprintf("%s #%d", desired, n)
		}

		key := scopeKey(propertyID, src, code)
		a.mu.Lock()
		_, taken := a.reserved[key]
		a.mu.Unlock()
		if taken {
			continue
		}

		inUse, err := a.repo.CodeInUse(ctx, propertyID, src, code)
		if err != nil {
			return "", fmt.Errorf("code probe %q: %w", code, err)
		}
		if inUse {
			continue
		}

		a.mu.Lock()
		a.reserved[key] = struct{}{}
		a.mu.Unlock()
		observability.ObserveCodeAllocated(n > 1)
		return code, nil
	}

	return "", fmt.Errorf("code %q in scope (%d, %s): %w", desired, propertyID, src, domain.ErrCodeSpaceExhausted)
}

func scopeKey(propertyID int64, source, code string) string {
	return fmt.Sprintf("%d|%s|%s", propertyID, source, code)
}
