// Package occupancy holds the gate decision logic: a pure function from a
// ticket snapshot, scan policy, and clock to an admission verdict and the
// resulting ticket state. It performs no I/O and keeps no state, so the
// optimistic path at the gate and the authoritative path during sync
// produce identical answers for identical inputs.
package occupancy

import (
	"time"

	"turnstile/internal/ticket/models"
)

// DenyReason explains a denied verdict. Business-rule denials are valid
// outcomes surfaced to the operator, not errors.
type DenyReason string

const (
	ReasonAlreadyUsed DenyReason = "ALREADY_USED"
	ReasonRevoked     DenyReason = "REVOKED"
	ReasonNotFound    DenyReason = "NOT_FOUND"
)

// Verdict is what the scanning UI shows the operator.
type Verdict struct {
	Admitted  bool             `json:"admitted"`
	Direction models.Direction `json:"direction,omitempty"`
	Reason    DenyReason       `json:"reason,omitempty"`
	// LastEntryAt carries the original admission time on ALREADY_USED
	// denials so the operator can see when the credential was first used.
	LastEntryAt *time.Time `json:"last_entry_at,omitempty"`
	// Tracked is set under exit-tracking so callers log exits distinctly.
	Tracked bool `json:"tracked,omitempty"`
}

// Decision pairs the verdict with the post-transition snapshot. NextState
// equals the input snapshot when nothing changed.
type Decision struct {
	Verdict   Verdict
	NextState models.Ticket
	// Changed says whether NextState must be committed to the store.
	Changed bool
}

// Decide maps (current ticket state, scan policy, now) to an admission
// verdict and the next state. A nil snapshot means the credential is
// unknown: denied with NOT_FOUND and no state change.
func Decide(t *models.Ticket, policy models.ScanPolicy, now time.Time) Decision {
	if t == nil {
		return Decision{Verdict: Verdict{Admitted: false, Reason: ReasonNotFound}}
	}

	if t.AdmissionStatus == models.AdmissionRevoked {
		return Decision{
			Verdict:   Verdict{Admitted: false, Reason: ReasonRevoked},
			NextState: *t,
		}
	}

	switch policy {
	case models.PolicySingleEntry:
		return decideSingleEntry(*t, now)
	default:
		return decideReEntry(*t, policy, now)
	}
}

func decideSingleEntry(t models.Ticket, now time.Time) Decision {
	if t.AdmissionStatus != models.AdmissionIssued || t.CurrentStatus != models.Outside {
		return Decision{
			Verdict: Verdict{
				Admitted:    false,
				Reason:      ReasonAlreadyUsed,
				LastEntryAt: t.LastEntryAt,
			},
			NextState: t,
		}
	}

	next := t
	next.CurrentStatus = models.Inside
	next.AdmissionStatus = models.AdmissionUsed
	next.EntryCount++
	next.LastEntryAt = &now

	return Decision{
		Verdict:   Verdict{Admitted: true, Direction: models.DirectionEntry},
		NextState: next,
		Changed:   true,
	}
}

func decideReEntry(t models.Ticket, policy models.ScanPolicy, now time.Time) Decision {
	next := t
	var direction models.Direction
	if t.CurrentStatus == models.Outside {
		direction = models.DirectionEntry
		next.CurrentStatus = models.Inside
		next.EntryCount++
		next.LastEntryAt = &now
	} else {
		direction = models.DirectionExit
		next.CurrentStatus = models.Outside
		next.ExitCount++
		next.LastExitAt = &now
	}

	return Decision{
		Verdict: Verdict{
			Admitted:  true,
			Direction: direction,
			Tracked:   policy == models.PolicyExitTracking,
		},
		NextState: next,
		Changed:   true,
	}
}

// Matches reports whether two verdicts agree for reconciliation purposes:
// same admission outcome and, when admitted, the same direction.
func Matches(a, b Verdict) bool {
	if a.Admitted != b.Admitted {
		return false
	}
	if a.Admitted {
		return a.Direction == b.Direction
	}
	return a.Reason == b.Reason
}
