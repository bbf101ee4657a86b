package engine

import "fmt"

// RejectionReason codes an admission or control failure so the transport
// layer can map it to a status without string matching.
type RejectionReason string

const (
	ReasonAlreadyHealing   RejectionReason = "already_healing"
	ReasonConcurrencyLimit RejectionReason = "concurrency_limit"
	ReasonCooldownActive   RejectionReason = "cooldown_active"
	ReasonNotFound         RejectionReason = "not_found"
	ReasonInvalidState     RejectionReason = "invalid_state"
)

// AdmissionError is a client-correctable rejection. These are surfaced
// synchronously to the caller and never logged as system errors.
type AdmissionError struct {
	Reason  RejectionReason
	Message string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func alreadyHealing(incidentID string) error {
	return &AdmissionError{
		Reason:  ReasonAlreadyHealing,
		Message: fmt.Sprintf("healing already in progress for incident %s", incidentID),
	}
}

func concurrencyLimit(max int) error {
	return &AdmissionError{
		Reason:  ReasonConcurrencyLimit,
		Message: fmt.Sprintf("maximum concurrent healings (%d) reached", max),
	}
}

func cooldownActive(service string) error {
	return &AdmissionError{
		Reason:  ReasonCooldownActive,
		Message: fmt.Sprintf("service %s is in cooldown period", service),
	}
}

func notFound(healingID string) error {
	return &AdmissionError{
		Reason:  ReasonNotFound,
		Message: fmt.Sprintf("healing %s not found", healingID),
	}
}

func invalidState(healingID, status string) error {
	return &AdmissionError{
		Reason:  ReasonInvalidState,
		Message: fmt.Sprintf("healing %s cannot transition from status %s", healingID, status),
	}
}
