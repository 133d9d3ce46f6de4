package model

import "time"

// Answers maps a field key to a JSON-serializable value.
type Answers map[string]any

// Clone returns a shallow copy. Values are treated as immutable once stored.
func (a Answers) Clone() Answers {
	if a == nil {
		return Answers{}
	}
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Document is the unit of optimistic concurrency control: only one Version is
// current per ID and every successful write increments it.
type Document struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Answers   Answers   `json:"answers"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CreateDocRequest struct {
	Answers Answers `json:"answers"`
}

// SaveRequest is the body of the save RPC. ClientVersion is the version the
// caller believes is current.
type SaveRequest struct {
	Answers       Answers `json:"answers"`
	ClientVersion int64   `json:"clientVersion"`
}

type SaveResponse struct {
	OK         bool  `json:"ok"`
	NewVersion int64 `json:"newVersion"`
}

// Latest is the authoritative state of a document returned with a conflict.
type Latest struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	Answers   Answers   `json:"answers"`
}

type ConflictResponse struct {
	Conflict bool   `json:"conflict"`
	Latest   Latest `json:"latest"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

// VersionEvent is pushed to websocket subscribers after a committed save.
type VersionEvent struct {
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LatestOf returns the conflict view of a document.
func LatestOf(doc *Document) Latest {
	return Latest{Version: doc.Version, UpdatedAt: doc.UpdatedAt, Answers: doc.Answers}
}
