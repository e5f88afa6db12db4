// Package scanqueue buffers scan attempts made while the remote ticket
// store is unreachable. Entries are durable, strictly FIFO per device, and
// deduplicated by idempotency key so a double tap on the scanner never
// becomes two admissions.
package scanqueue

import (
	"time"

	"github.com/google/uuid"

	"turnstile/internal/occupancy"
	"turnstile/internal/ticket/models"
)

// ScanAttempt is a single scan event as captured at the gate. Immutable
// once created.
type ScanAttempt struct {
	ID             uuid.UUID         `json:"id"`
	Credential     string            `json:"credential"`
	DeviceID       string            `json:"device_id"`
	Policy         models.ScanPolicy `json:"policy"`
	ScannedAt      time.Time         `json:"scanned_at"`
	IdempotencyKey string            `json:"idempotency_key"`
}

// EntryStatus is the lifecycle of a queued attempt.
type EntryStatus string

const (
	StatusPending EntryStatus = "pending"
	StatusSyncing EntryStatus = "syncing"
	StatusSynced  EntryStatus = "synced"
	StatusFailed  EntryStatus = "failed"
)

// Entry wraps a ScanAttempt with queue lifecycle state. Seq is assigned by
// the store and increases monotonically, giving FIFO recovery after a
// restart.
type Entry struct {
	Seq     int64       `json:"seq"`
	Attempt ScanAttempt `json:"attempt"`
	// Verdict is the optimistic verdict shown at scan time, kept so a
	// deduplicated re-scan can return the identical answer.
	Verdict occupancy.Verdict `json:"verdict"`
	Status  EntryStatus       `json:"status"`
	// Superseded marks an entry whose optimistic verdict was overturned by
	// authoritative state during reconciliation.
	Superseded bool       `json:"superseded,omitempty"`
	RetryCount int        `json:"retry_count,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	SyncedAt   *time.Time `json:"synced_at,omitempty"`
}

// Counts summarizes queue depth for the operator-facing pending indicator.
type Counts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Synced  int `json:"synced"`
	Failed  int `json:"failed"`
}
