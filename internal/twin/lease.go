package twin

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/twinbattle/internal/errors"
)

// Lease sentinel errors.
var (
	// ErrAlreadyLeased is returned when a twin is already leased for the round.
	ErrAlreadyLeased = errors.New("twin already leased")
	// ErrNotLeased is returned when releasing a twin that is not leased.
	ErrNotLeased = errors.New("twin is not leased")
)

// Lease is exclusive, round-scoped access to one team's twin. Agents only see
// a twin's path through a Lease.
type Lease struct {
	Team     Team
	Round    int
	LeasedAt time.Time
	handle   *Handle
}

// Target returns what tools should be pointed at.
func (l *Lease) Target() string { return l.handle.Target }

// Dir returns the twin's host directory.
func (l *Lease) Dir() string { return l.handle.Dir }

// Handle returns the leased handle.
func (l *Lease) Handle() *Handle { return l.handle }

// LeaseRegistry records which team owns each twin and which twins are leased
// for the current round. A team can never lease the other team's twin.
type LeaseRegistry struct {
	mu      sync.RWMutex
	handles map[Team]*Handle
	leases  map[Team]*Lease
}

// NewLeaseRegistry creates an empty registry.
func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{
		handles: make(map[Team]*Handle),
		leases:  make(map[Team]*Lease),
	}
}

// Register records h as the twin owned by h.Team, replacing any previous one.
func (r *LeaseRegistry) Register(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[h.Team] = h
	delete(r.leases, h.Team)
}

// Handle returns the registered twin for team.
func (r *LeaseRegistry) Handle(team Team) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[team]
	return h, ok
}

// Acquire leases h to team for round. Leasing a twin registered to the other
// team returns errors.ErrTwinNotOwned. Re-acquiring in the same round returns
// the existing lease.
func (r *LeaseRegistry) Acquire(team Team, h *Handle, round int) (*Lease, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil twin", ErrNotLeased)
	}
	if h.Team != team {
		return nil, fmt.Errorf("%w: %s cannot lease the %s twin", errors.ErrTwinNotOwned, team, h.Team)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, ok := r.handles[team]
	if !ok || registered != h {
		return nil, fmt.Errorf("%w: twin is not registered to %s", errors.ErrTwinNotOwned, team)
	}
	if existing, ok := r.leases[team]; ok {
		if existing.Round == round {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %s twin held since round %d", ErrAlreadyLeased, team, existing.Round)
	}

	lease := &Lease{Team: team, Round: round, LeasedAt: time.Now(), handle: h}
	r.leases[team] = lease
	return lease, nil
}

// Release ends team's lease. Releasing the other team's lease returns
// errors.ErrTwinNotOwned.
func (r *LeaseRegistry) Release(l *Lease) error {
	if l == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.leases[l.handle.Team]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotLeased, l.handle.Team)
	}
	if existing.Team != l.Team || existing != l {
		return fmt.Errorf("%w: lease on %s twin belongs to %s", errors.ErrTwinNotOwned, l.handle.Team, existing.Team)
	}
	delete(r.leases, l.handle.Team)
	return nil
}

// ReleaseAll drops every outstanding lease.
func (r *LeaseRegistry) ReleaseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leases = make(map[Team]*Lease)
}

// Leased returns the teams whose twins are currently leased, sorted.
func (r *LeaseRegistry) Leased() []Team {
	r.mu.RLock()
	defer r.mu.RUnlock()
	teams := make([]Team, 0, len(r.leases))
	for t := range r.leases {
		teams = append(teams, t)
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i] < teams[j] })
	return teams
}
