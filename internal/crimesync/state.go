package crimesync

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/police-sync/internal/period"
	"github.com/sells-group/police-sync/internal/store"
)

// Variable names shared with the database.
const (
	VarWatermark = "crime-last-updated"
	VarLock      = "police-data-load"
	VarSanity    = "crime-load-sanity"
)

// State reads and writes the persisted run state: the watermark, the run
// lock and the last sanity result.
type State struct {
	vars store.Variables
}

// NewState creates a State over the variable store.
func NewState(vars store.Variables) *State {
	return &State{vars: vars}
}

// Watermark returns the last fully loaded month. present is false when the
// variable is unset; valid is false when it is set but unparseable.
func (s *State) Watermark(ctx context.Context) (m period.Month, present, valid bool, err error) {
	raw, ok, err := s.vars.GetVariable(ctx, VarWatermark)
	if err != nil {
		return period.Month{}, false, false, eris.Wrap(err, "state: read watermark")
	}
	if !ok || raw == "" {
		return period.Month{}, false, false, nil
	}
	m, err = period.ParseMonth(raw)
	if err != nil || m.IsZero() {
		return period.Month{}, true, false, nil
	}
	return m, true, true, nil
}

// InitWatermark creates the watermark variable.
func (s *State) InitWatermark(ctx context.Context, m period.Month) error {
	return eris.Wrap(s.vars.PostVariable(ctx, VarWatermark, m.String()), "state: create watermark")
}

// SetWatermark overwrites the watermark variable.
func (s *State) SetWatermark(ctx context.Context, m period.Month) error {
	return eris.Wrap(s.vars.PutVariable(ctx, VarWatermark, m.String()), "state: update watermark")
}

// Lock returns the run lock status; held is false when no run holds it.
func (s *State) Lock(ctx context.Context) (status string, held bool, err error) {
	status, held, err = s.vars.GetVariable(ctx, VarLock)
	if err != nil {
		return "", false, eris.Wrap(err, "state: read lock")
	}
	return status, held, nil
}

// Acquire creates the run lock with an initial status.
func (s *State) Acquire(ctx context.Context, status string) error {
	return eris.Wrap(s.vars.PostVariable(ctx, VarLock, status), "state: acquire lock")
}

// SetStatus replaces the status text of a held lock.
func (s *State) SetStatus(ctx context.Context, status string) error {
	return eris.Wrap(s.vars.PutVariable(ctx, VarLock, status), "state: update lock status")
}

// Release deletes the run lock.
func (s *State) Release(ctx context.Context) error {
	return eris.Wrap(s.vars.DeleteVariable(ctx, VarLock), "state: release lock")
}

// RecordSanity replaces the stored sanity result.
func (s *State) RecordSanity(ctx context.Context, value string) error {
	if err := s.vars.DeleteVariable(ctx, VarSanity); err != nil {
		return eris.Wrap(err, "state: clear sanity result")
	}
	return eris.Wrap(s.vars.PostVariable(ctx, VarSanity, value), "state: record sanity result")
}

// Snapshot is the persisted state as shown to operators.
type Snapshot struct {
	Watermark string `json:"watermark" yaml:"watermark"`
	Locked    bool   `json:"locked" yaml:"locked"`
	Lock      string `json:"lock,omitempty" yaml:"lock,omitempty"`
	Sanity    string `json:"sanity,omitempty" yaml:"sanity,omitempty"`
}

// Snapshot reads the three state variables as stored.
func (s *State) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var err error
	if snap.Watermark, _, err = s.vars.GetVariable(ctx, VarWatermark); err != nil {
		return snap, eris.Wrap(err, "state: read watermark")
	}
	if snap.Lock, snap.Locked, err = s.vars.GetVariable(ctx, VarLock); err != nil {
		return snap, eris.Wrap(err, "state: read lock")
	}
	if snap.Sanity, _, err = s.vars.GetVariable(ctx, VarSanity); err != nil {
		return snap, eris.Wrap(err, "state: read sanity result")
	}
	return snap, nil
}
