package sor

import (
	"context"
	"time"
)

// Field names accepted by RequestStore.Update. They double as the column
// names of the sql store so a patch maps directly onto a SET clause.
const (
	FieldStatus             = "status"
	FieldOverallScore       = "overall_score"
	FieldErrorMessage       = "error_message"
	FieldDocumentPath       = "document_path"
	FieldSignedDocumentPath = "signed_document_path"
	FieldSignatureRef       = "signature_ref"
	FieldSignatureSentAt    = "signature_sent_at"
)

// Fields is a partial update of a request. The store applies it field by
// field, last write wins; state machine legality is the Engine's concern.
type Fields map[string]any

// ListFilter narrows List. A nil Status returns all requests.
type ListFilter struct {
	Status *Status
	Limit  int
}

// Stats is the dashboard overview aggregate.
type Stats struct {
	Total         int
	Pending       int
	PDFGenerated  int
	SignatureSent int
	Signed        int
	Uploaded      int
	Failed        int

	// Overdue counts requests stuck in signature_sent for longer than the
	// configured threshold without being signed.
	Overdue int
	// Recent counts requests created in the last 24 hours.
	Recent int
}

// RequestStore is the system of record for requests and their audit trail.
// Implementations should all be tested with storetest.RunRequestStoreTest.
type RequestStore interface {
	// Create inserts the request in pending status and returns its ID. An
	// error means nothing was persisted; callers must treat it as a hard
	// failure rather than retrying blindly.
	Create(ctx context.Context, req *Request) (int64, error)

	// Update applies a partial field patch and bumps updated_at.
	Update(ctx context.Context, id int64, updates Fields) error

	// Lookup returns ErrRecordNotFound when no request has the given ID.
	Lookup(ctx context.Context, id int64) (*Request, error)

	// List returns requests most-recently-updated first.
	List(ctx context.Context, filter ListFilter) ([]Request, error)

	// AppendAudit writes one immutable audit entry. Persistence errors are
	// returned to the caller; they never roll back the step that produced
	// the entry but must remain observable.
	AppendAudit(ctx context.Context, requestID int64, action, detail string, outcome Outcome) error

	// ListAudit returns the newest entries first.
	ListAudit(ctx context.Context, requestID int64, limit int) ([]AuditEntry, error)

	// Stats aggregates counts per status bucket plus overdue detection
	// against the provided threshold.
	Stats(ctx context.Context, overdueAfter time.Duration) (Stats, error)
}
