package autosave

import (
	"time"

	"formsave/internal/answers/model"
)

type Status string

const (
	StatusIdle     Status = "idle"
	StatusSaving   Status = "saving"
	StatusSaved    Status = "saved"
	StatusError    Status = "error"
	StatusConflict Status = "conflict"
)

// Conflict is the store's authoritative state captured verbatim from a
// rejected save.
type Conflict struct {
	LatestVersion   int64
	LatestUpdatedAt time.Time
	LatestAnswers   model.Answers
}

// State is an observable snapshot of a Session.
type State struct {
	Status   Status
	Message  string
	Conflict *Conflict
	// Version is the last version the session knows to be current.
	Version int64
	// Dirty reports unsaved edits in the buffer.
	Dirty bool
	// InFlight reports a save request awaiting its outcome.
	InFlight bool
}

// Outcome is the result of a save request that reached the store.
// It is one of Saved, Conflicted or Failed.
type Outcome interface {
	isOutcome()
}

type Saved struct {
	NewVersion int64
}

type Conflicted struct {
	Latest model.Latest
}

// Failed is a server-side failure that is not a version conflict. Message is
// shown to the user verbatim.
type Failed struct {
	Message string
}

func (Saved) isOutcome()      {}
func (Conflicted) isOutcome() {}
func (Failed) isOutcome()     {}
