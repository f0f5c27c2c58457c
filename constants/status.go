package constants

// InvoiceStatus is the canonical status for rows in invoices.
type InvoiceStatus string

// Stable values (store these exact strings in DB).
const (
	StatusProcessing          InvoiceStatus = "processing"           // intake done, extraction in flight
	StatusCompleted           InvoiceStatus = "completed"            // extraction finished, data populated
	StatusFailed              InvoiceStatus = "failed"               // extraction or posting failure
	StatusPendingVerification InvoiceStatus = "pending_verification" // held for human review
	StatusPosted              InvoiceStatus = "posted"               // accepted by every destination
)

// transitions holds the legal status edges. The extraction pipeline only
// uses processing->{completed,failed}; the posting orchestrator only uses
// completed->{posted,failed}. The pending_verification edges back the
// manual review surface and are never taken automatically.
var transitions = map[InvoiceStatus][]InvoiceStatus{
	StatusProcessing:          {StatusCompleted, StatusFailed},
	StatusCompleted:           {StatusPosted, StatusFailed, StatusPendingVerification},
	StatusFailed:              {StatusPendingVerification},
	StatusPendingVerification: {StatusCompleted, StatusFailed},
}

// CanTransition reports whether from->to is a legal status edge.
func CanTransition(from, to InvoiceStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether s is one of the known status values.
func IsValidStatus(s InvoiceStatus) bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed, StatusPendingVerification, StatusPosted:
		return true
	}
	return false
}
