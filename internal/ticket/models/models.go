// Package models defines the ticket domain: the credential being scanned at
// the gate, its occupancy state, and the append-only scan history.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AdmissionStatus is the lifecycle state of a ticket credential.
type AdmissionStatus string

const (
	AdmissionIssued  AdmissionStatus = "issued"
	AdmissionUsed    AdmissionStatus = "used"
	AdmissionRevoked AdmissionStatus = "revoked"
)

// IsValid checks if the admission status is one of the supported enum values.
func (s AdmissionStatus) IsValid() bool {
	switch s {
	case AdmissionIssued, AdmissionUsed, AdmissionRevoked:
		return true
	}
	return false
}

// OccupancyStatus says whether the ticket holder is currently inside the venue.
type OccupancyStatus string

const (
	Outside OccupancyStatus = "outside"
	Inside  OccupancyStatus = "inside"
)

// ScanPolicy selects the gate behavior in effect when a scan happens.
type ScanPolicy string

const (
	// PolicySingleEntry admits once; every later scan is denied.
	PolicySingleEntry ScanPolicy = "single-entry"
	// PolicyReEntry toggles freely between outside and inside.
	PolicyReEntry ScanPolicy = "re-entry"
	// PolicyExitTracking behaves like re-entry but exits are reported
	// distinctly to the caller for logging.
	PolicyExitTracking ScanPolicy = "exit-tracking"
)

// IsValid checks if the scan policy is one of the supported enum values.
func (p ScanPolicy) IsValid() bool {
	switch p {
	case PolicySingleEntry, PolicyReEntry, PolicyExitTracking:
		return true
	}
	return false
}

// Direction of an admitted scan.
type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// Ticket is a read-only snapshot of authoritative ticket state. The remote
// store owns the source of truth; local copies are only used for optimistic
// verdicts while offline.
type Ticket struct {
	Credential      string          `json:"credential"`
	CurrentStatus   OccupancyStatus `json:"current_status"`
	EntryCount      int             `json:"entry_count"`
	ExitCount       int             `json:"exit_count"`
	LastEntryAt     *time.Time      `json:"last_entry_at,omitempty"`
	LastExitAt      *time.Time      `json:"last_exit_at,omitempty"`
	AdmissionStatus AdmissionStatus `json:"admission_status"`
}

// Version is the compare-and-swap key for conditional updates. Two devices
// racing on the same ticket produce different versions after the first
// commit, so exactly one conditional update wins.
type Version struct {
	EntryCount    int
	ExitCount     int
	CurrentStatus OccupancyStatus
}

// Version returns the CAS key for the snapshot.
func (t Ticket) Version() Version {
	return Version{
		EntryCount:    t.EntryCount,
		ExitCount:     t.ExitCount,
		CurrentStatus: t.CurrentStatus,
	}
}

// CheckInvariant reports whether the counters satisfy
// entryCount >= exitCount >= entryCount-1: a ticket cannot exit twice
// without an intervening entry.
func (t Ticket) CheckInvariant() bool {
	return t.EntryCount >= t.ExitCount && t.ExitCount >= t.EntryCount-1
}

// ScanHistoryRecord is the server-side, append-only audit entry written for
// every admitted or denied attempt. Write-once; used to reconstruct counters
// and for dispute resolution.
type ScanHistoryRecord struct {
	ID         uuid.UUID `json:"id"`
	Credential string    `json:"credential"`
	DeviceID   string    `json:"device_id"`
	Direction  Direction `json:"direction,omitempty"`
	Admitted   bool      `json:"admitted"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	// Snapshot is the resulting ticket state after the attempt.
	Snapshot Ticket `json:"snapshot"`
}
