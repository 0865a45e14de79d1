package ledger

import (
	"sort"
	"time"
)

// Registry is the share registry for one pool: every stake keyed by id.
// It is owned by the pool's actor and must only be touched inside actor jobs.
type Registry struct {
	stakes map[string]*Stake
}

// NewRegistry creates an empty share registry
func NewRegistry() *Registry {
	return &Registry{stakes: make(map[string]*Stake)}
}

// Put adds or replaces a stake in the registry
func (r *Registry) Put(stake *Stake) {
	r.stakes[stake.ID] = stake
}

// Get returns a stake by id
func (r *Registry) Get(stakeID string) (*Stake, bool) {
	s, ok := r.stakes[stakeID]
	return s, ok
}

// Remove drops a stake from the registry
func (r *Registry) Remove(stakeID string) {
	delete(r.stakes, stakeID)
}

// Len returns the number of registered stakes
func (r *Registry) Len() int {
	return len(r.stakes)
}

// HeldShares sums shares over stakes in share-holding states. Must equal
// pool.TotalShares at all times.
func (r *Registry) HeldShares() float64 {
	var total float64
	for _, s := range r.stakes {
		if s.Status.HoldsShares() {
			total += s.Shares
		}
	}
	return total
}

// Holding returns the share-holding stakes sorted by id for deterministic
// iteration.
func (r *Registry) Holding() []*Stake {
	out := make([]*Stake, 0, len(r.stakes))
	for _, s := range r.stakes {
		if s.Status.HoldsShares() {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot captures the registry as share ledger entries at one instant.
// Profit distribution and redemption that refer to the same settlement must
// use the same snapshot.
func (r *Registry) Snapshot(pool *Pool, now time.Time) []ShareLedgerEntry {
	holding := r.Holding()
	entries := make([]ShareLedgerEntry, 0, len(holding))
	for _, s := range holding {
		entry := ShareLedgerEntry{
			StakeID:       s.ID,
			ParticipantID: s.ParticipantID,
			PoolID:        s.PoolID,
			Shares:        s.Shares,
			Status:        s.Status,
			Value:         s.Shares * pool.CurrentNav,
			SnapshotAt:    now,
		}
		if pool.TotalShares > 0 {
			entry.SharePct = s.Shares / pool.TotalShares
		}
		entries = append(entries, entry)
	}
	return entries
}

// Transition moves a stake through its state machine, enforcing legal
// edges only:
//
//	active <-> paused -> pending_redemption -> redeemed
//	active -> pending_redemption
//	cancelled is terminal and unreachable from any share-holding state here.
func (r *Registry) Transition(stakeID string, to StakeStatus, now time.Time) (*Stake, error) {
	stake, ok := r.stakes[stakeID]
	if !ok {
		return nil, ErrStakeNotFound
	}
	if stake.Status.IsTerminal() {
		return nil, ErrAlreadyTerminal
	}
	if !validTransition(stake.Status, to) {
		return nil, &InvalidTransitionError{StakeID: stakeID, From: stake.Status, To: to}
	}

	switch {
	case to == StakePaused:
		t := now
		stake.PausedAt = &t
	case stake.Status == StakePaused:
		// Leaving paused: bank the accumulated pause time
		if stake.PausedAt != nil {
			stake.PausedSeconds += now.Sub(*stake.PausedAt).Seconds()
			stake.PausedAt = nil
		}
	}
	if to == StakeRedeemed {
		t := now
		stake.RedeemedAt = &t
	}

	stake.Status = to
	stake.UpdatedAt = now
	return stake, nil
}

func validTransition(from, to StakeStatus) bool {
	switch from {
	case StakeActive:
		return to == StakePaused || to == StakePendingRedemption
	case StakePaused:
		return to == StakeActive || to == StakePendingRedemption
	case StakePendingRedemption:
		return to == StakeRedeemed
	default:
		return false
	}
}
