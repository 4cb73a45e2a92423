package model

import "time"

// IngestionRun is the audit record of a single ingestion run.
type IngestionRun struct {
	ID                string     `json:"id"`
	Mailbox           string     `json:"mailbox"`
	StartedAt         time.Time  `json:"started_at"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	CursorBefore      uint32     `json:"cursor_before"`
	CursorAfter       uint32     `json:"cursor_after"`
	Candidates        int        `json:"candidates"`
	SkippedSenders    int        `json:"skipped_senders"`
	Saved             int        `json:"saved"`
	Rejected          int        `json:"rejected"`
	Duplicates        int        `json:"duplicates"`
	Empty             int        `json:"empty"`
	PersistenceFailed int        `json:"persistence_failed"`

	// Error holds the fatal error text, empty when the run completed.
	Error string `json:"error,omitempty"`
}
