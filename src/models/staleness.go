package models

import "time"

// StalenessState is the refresh state of one instrument.
//
//	fresh          row reflects every input seen so far
//	dirty          inputs changed since the last commit
//	claimed        a worker holds the instrument, no change since the claim
//	claimed_dirty  a worker holds it and inputs changed again meanwhile
type StalenessState string

const (
	StateFresh        StalenessState = "fresh"
	StateDirty        StalenessState = "dirty"
	StateClaimed      StalenessState = "claimed"
	StateClaimedDirty StalenessState = "claimed_dirty"
)

// AllStalenessStates lists the states in display order.
var AllStalenessStates = []StalenessState{StateFresh, StateDirty, StateClaimed, StateClaimedDirty}

// IsClaimed reports whether a worker currently holds the instrument.
func (s StalenessState) IsClaimed() bool {
	return s == StateClaimed || s == StateClaimedDirty
}

// -----------------------------------------------------------------------------

// AfterMarkDirty is the state an entry moves to when its inputs change.
func (s StalenessState) AfterMarkDirty() StalenessState {
	switch s {
	case StateFresh:
		return StateDirty
	case StateClaimed:
		return StateClaimedDirty
	}
	return s
}

// AfterCommit is the state an entry moves to when its claim commits.
func (s StalenessState) AfterCommit() StalenessState {
	if s == StateClaimedDirty {
		return StateDirty
	}
	return StateFresh
}

// AfterReclaim is the state an entry moves to when a new claim takes it.
// An expired claimed_dirty keeps its extra dirtiness.
func (s StalenessState) AfterReclaim() StalenessState {
	if s == StateClaimedDirty {
		return StateClaimedDirty
	}
	return StateClaimed
}

// -----------------------------------------------------------------------------

// MStalenessEntry is the persisted view of one instrument's refresh state.
type MStalenessEntry struct {
	Symbol     string         `json:"symbol"`
	State      StalenessState `json:"state"`
	LastUpdate time.Time      `json:"last_update"`
	ClaimToken string         `json:"claim_token,omitempty"`
	ClaimedAt  time.Time      `json:"claimed_at,omitempty"`
}

// Claimable reports whether a claim issued at now may take the entry.
func (e MStalenessEntry) Claimable(now time.Time, claimTimeout time.Duration) bool {
	switch e.State {
	case StateDirty:
		return true
	case StateClaimed, StateClaimedDirty:
		return claimTimeout > 0 && !e.ClaimedAt.Add(claimTimeout).After(now)
	}
	return false
}

// -----------------------------------------------------------------------------

// MClaim is a batch of instruments held by one worker until commit or release.
type MClaim struct {
	Token     string    `json:"token"`
	Symbols   []string  `json:"symbols"`
	ClaimedAt time.Time `json:"claimed_at"`
}

// Empty reports whether the claim holds nothing.
func (c *MClaim) Empty() bool {
	return c == nil || len(c.Symbols) == 0
}
