package sor

// Status is the lifecycle state of a Request. The persisted value is the
// string form so that the dashboard tables remain readable.
type Status int

const (
	StatusUnknown       Status = 0
	StatusPending       Status = 1
	StatusPDFGenerated  Status = 2
	StatusSignatureSent Status = 3
	StatusSigned        Status = 4
	StatusUploaded      Status = 5
	StatusFailed        Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPDFGenerated:
		return "pdf_generated"
	case StatusSignatureSent:
		return "signature_sent"
	case StatusSigned:
		return "signed"
	case StatusUploaded:
		return "uploaded"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ParseStatus maps a persisted status value back onto its enum.
func ParseStatus(s string) (Status, error) {
	for _, status := range []Status{
		StatusPending,
		StatusPDFGenerated,
		StatusSignatureSent,
		StatusSigned,
		StatusUploaded,
		StatusFailed,
	} {
		if status.String() == s {
			return status, nil
		}
	}

	return StatusUnknown, ErrUnknownStatus
}

// Terminal reports whether a run of the workflow ends at this status. A failed
// request may still be manually reset which re-enters the workflow at pending.
func (s Status) Terminal() bool {
	return s == StatusUploaded || s == StatusFailed
}

// transitions is the directed edge set of the state machine. Updating a
// request's status along any other edge is refused by the engine.
var transitions = map[Status][]Status{
	StatusPending:       {StatusPDFGenerated, StatusFailed},
	StatusPDFGenerated:  {StatusSignatureSent, StatusUploaded, StatusFailed},
	StatusSignatureSent: {StatusSigned, StatusFailed},
	StatusSigned:        {StatusUploaded, StatusFailed},
	StatusFailed:        {StatusPending},
}

// CanTransition reports whether from may legally move to to.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}

	return false
}
