package sor

import "time"

// Request is one learner's statement-of-results request for an assessment
// cycle. It is mutated exclusively by the Engine; readers (dashboard, API)
// only list and inspect it.
type Request struct {
	ID           int64
	LearnerID    int64
	LearnerName  string
	LearnerEmail string

	Status       Status
	OverallScore *float64
	ErrorMessage string

	// DocumentPath is set once the statement has been rendered.
	DocumentPath string
	// SignedDocumentPath is set once the signed artifact has been downloaded.
	SignedDocumentPath string
	// SignatureRef is the provider-assigned token, set when a signature
	// request has been sent and the signature step was not skipped.
	SignatureRef string
	// SignatureSentAt drives overdue detection.
	SignatureSentAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// UploadPath is the artifact that should reach the grading target: the signed
// document when one exists, otherwise the rendered original.
func (r *Request) UploadPath() string {
	if r.SignedDocumentPath != "" {
		return r.SignedDocumentPath
	}

	return r.DocumentPath
}

// Outcome tags an audit entry with how the step concluded.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeWarning Outcome = "warning"
	OutcomeFailed  Outcome = "failed"
	OutcomeError   Outcome = "error"
)

// AuditEntry is an immutable append-only record of one workflow step outcome.
// Entries are never updated or deleted.
type AuditEntry struct {
	ID        int64
	RequestID int64
	Action    string
	Detail    string
	Outcome   Outcome
	CreatedAt time.Time
}

// Audit action vocabulary. Kept stable as the dashboard filters on these.
const (
	ActionRequestCreated    = "request_created"
	ActionProcessStarted    = "process_started"
	ActionValidationPassed  = "validation_passed"
	ActionValidationFailed  = "validation_failed"
	ActionPDFGenerated      = "pdf_generated"
	ActionPDFFailed         = "pdf_generation_failed"
	ActionSignatureSent     = "signature_sent"
	ActionSignatureFailed   = "signature_failed"
	ActionSignatureSkipped  = "signature_skipped"
	ActionSignatureChecked  = "signature_checked"
	ActionSignatureTimeout  = "signature_timeout"
	ActionSignatureComplete = "signature_completed"
	ActionSignedDownloaded  = "signed_pdf_downloaded"
	ActionDownloadFailed    = "download_failed"
	ActionUploadSuccess     = "upload_success"
	ActionUploadFailed      = "upload_failed"
	ActionGradeSynced       = "grade_synced"
	ActionGradeSyncFailed   = "grade_sync_failed"
	ActionScoreRecalced     = "score_recalculated"
	ActionRequestReset      = "request_reset"
	ActionProcessFailed     = "process_failed"
)
