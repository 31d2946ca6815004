package sor

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/jettison/log"
	"k8s.io/utils/clock"

	"github.com/mindworx/sor/internal/metrics"
)

// AuditNotifier receives a copy of every audit entry the engine writes.
// Delivery is best effort; a notifier failure never affects a transition.
type AuditNotifier interface {
	Notify(ctx context.Context, entry AuditEntry) error
}

// Engine drives requests through the statement workflow. It is the only
// component that mutates the request store, and every step is guarded by a
// status check so re-running a step on an already advanced request is a noop.
type Engine struct {
	store    RequestStore
	source   DataSource
	renderer DocumentRenderer
	signer   SignatureProvider
	grader   GradingTarget

	cfg      Config
	clock    clock.Clock
	notifier AuditNotifier
}

type EngineOption func(*Engine)

// WithClock overrides the engine's clock, mainly for testing timeout and
// overdue behaviour.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithAuditNotifier publishes audit entries to an external feed on top of
// persisting them.
func WithAuditNotifier(n AuditNotifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

func NewEngine(
	store RequestStore,
	source DataSource,
	renderer DocumentRenderer,
	signer SignatureProvider,
	grader GradingTarget,
	cfg Config,
	opts ...EngineOption,
) *Engine {
	e := &Engine{
		store:    store,
		source:   source,
		renderer: renderer,
		signer:   signer,
		grader:   grader,
		cfg:      cfg.withDefaults(),
		clock:    clock.RealClock{},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Store exposes the request store for read-only surfaces (dashboard, API).
func (e *Engine) Store() RequestStore {
	return e.store
}

// Config returns the engine's immutable configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// CreateRequest fetches the learner's assessment results, computes the
// overall score and inserts a new pending request. Creation is refused when
// the learner has no results at all as there is nothing to report on.
func (e *Engine) CreateRequest(ctx context.Context, learnerID int64, learnerName, learnerEmail string) (int64, error) {
	results, err := e.source.FetchAssessmentResults(ctx, learnerName)
	if err != nil {
		return 0, err
	}

	if len(results) == 0 {
		return 0, errors.Wrap(ErrDataUnavailable, "no assessment results", j.KV("learner_name", learnerName))
	}

	score := ComputeOverallScore(results, e.cfg.Weights)
	now := e.clock.Now()

	id, err := e.store.Create(ctx, &Request{
		LearnerID:    learnerID,
		LearnerName:  learnerName,
		LearnerEmail: learnerEmail,
		Status:       StatusPending,
		OverallScore: &score,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return 0, errors.Wrap(ErrPersistence, "create request", j.KV("learner_name", learnerName))
	}

	e.audit(ctx, id, ActionRequestCreated, fmt.Sprintf("SOR request created with score: %.2f%%", score), OutcomeSuccess)

	return id, nil
}

// ProcessRequest drives one request as far as it can go from pending:
// fetch data, validate, score, render, then route to signature or straight
// to upload. A request already in pdf_generated resumes at the routing step,
// which is how a signature send failure gets retried on the next sweep, and
// a request in signed resumes at the upload step, which is how a run that
// died between download and upload gets finished.
func (e *Engine) ProcessRequest(ctx context.Context, id int64) error {
	t0 := e.clock.Now()
	defer func() {
		metrics.StepLatency.WithLabelValues("process").Observe(e.clock.Since(t0).Seconds())
	}()

	req, err := e.store.Lookup(ctx, id)
	if err != nil {
		return err
	}

	switch req.Status {
	case StatusPending:
		return e.processPending(ctx, req)
	case StatusPDFGenerated:
		return e.route(ctx, req)
	case StatusSigned:
		return e.upload(ctx, req)
	default:
		metrics.StepSkips.WithLabelValues("process").Inc()
		return nil
	}
}

func (e *Engine) processPending(ctx context.Context, req *Request) error {
	e.audit(ctx, req.ID, ActionProcessStarted, "Started SOR generation for "+req.LearnerName, OutcomeSuccess)

	learner, profile, results, err := e.fetchLearnerData(ctx, req.LearnerName)
	if errors.Is(err, ErrDataUnavailable) {
		ferr := e.fail(ctx, req, ActionProcessFailed, "Learner data not found")
		if ferr != nil {
			return ferr
		}

		return err
	} else if err != nil {
		// Transport errors leave the request pending for the next sweep.
		return err
	}

	score := ComputeOverallScore(results, e.cfg.Weights)
	err = e.store.Update(ctx, req.ID, Fields{FieldOverallScore: score})
	if err != nil {
		return errors.Wrap(ErrPersistence, "attach score", j.KV("request_id", req.ID))
	}
	req.OverallScore = &score

	if reason := validateLearner(learner, results); reason != "" {
		ferr := e.fail(ctx, req, ActionValidationFailed, reason)
		if ferr != nil {
			return ferr
		}

		return errors.Wrap(ErrValidation, reason, j.KV("request_id", req.ID))
	}

	if missing := missingProfileFields(profile); len(missing) > 0 {
		log.Info(ctx, "soft profile fields missing", j.MKV{
			"request_id": fmt.Sprintf("%d", req.ID),
			"fields":     strings.Join(missing, ", "),
		})
	}

	e.audit(ctx, req.ID, ActionValidationPassed, "All validation checks passed", OutcomeSuccess)

	outputPath := filepath.Join(e.cfg.DocumentDir, e.documentFilename(req.LearnerName))
	artifact, err := e.renderer.Render(ctx, ReportData{
		Learner:      *learner,
		Profile:      profile,
		Results:      results,
		OverallScore: score,
	}, outputPath)
	if err != nil || artifact == "" {
		metrics.StepErrors.WithLabelValues("render").Inc()
		ferr := e.fail(ctx, req, ActionPDFFailed, "PDF generation failed")
		if ferr != nil {
			return ferr
		}

		return errors.Wrap(ErrRender, "", j.KV("request_id", req.ID))
	}

	err = e.transition(ctx, req, StatusPDFGenerated, Fields{FieldDocumentPath: artifact})
	if err != nil {
		return err
	}
	req.DocumentPath = artifact

	e.audit(ctx, req.ID, ActionPDFGenerated, "PDF generated: "+artifact, OutcomeSuccess)

	return e.route(ctx, req)
}

// route moves a pdf_generated request onward: either into the signature flow
// or, when signing is disabled or impossible, straight to the grading target.
func (e *Engine) route(ctx context.Context, req *Request) error {
	if e.cfg.SkipSignature {
		e.audit(ctx, req.ID, ActionSignatureSkipped, "Signature step skipped (signing disabled)", OutcomeWarning)
		return e.upload(ctx, req)
	}

	if req.LearnerEmail == "" {
		e.audit(ctx, req.ID, ActionSignatureSkipped, "Signature step skipped (no learner email)", OutcomeWarning)
		return e.upload(ctx, req)
	}

	ref, err := e.signer.Send(ctx, req.DocumentPath, req.LearnerName, req.LearnerEmail)
	if err != nil || ref == "" {
		// NoReturnErr: a send failure is soft. The request stays in
		// pdf_generated and the next sweep retries the send.
		metrics.StepErrors.WithLabelValues("signature_send").Inc()
		e.audit(ctx, req.ID, ActionSignatureFailed, "Failed to send signature request", OutcomeWarning)
		return nil
	}

	now := e.clock.Now()
	err = e.transition(ctx, req, StatusSignatureSent, Fields{
		FieldSignatureRef:    ref,
		FieldSignatureSentAt: now,
	})
	if err != nil {
		return err
	}

	e.audit(ctx, req.ID, ActionSignatureSent, fmt.Sprintf("Signature request sent (ID: %s)", ref), OutcomeSuccess)

	return nil
}

// CheckResult reports how far one signature check advanced a request.
type CheckResult struct {
	// Completed is true when the signed artifact was downloaded this check.
	Completed bool
	// Uploaded is true when the chained submission also reached the grading
	// target.
	Uploaded bool
}

// CheckSignature polls the provider for one signature_sent request. On
// completion it downloads the signed artifact and immediately chains the
// grading target submission. Polling past the configured maximum wait logs a
// timeout warning but never auto-fails the request; a human signer may still
// complete it.
func (e *Engine) CheckSignature(ctx context.Context, id int64) (CheckResult, error) {
	req, err := e.store.Lookup(ctx, id)
	if err != nil {
		return CheckResult{}, err
	}

	if req.Status != StatusSignatureSent || req.SignatureRef == "" {
		metrics.StepSkips.WithLabelValues("signature_check").Inc()
		return CheckResult{}, nil
	}

	complete, err := e.signer.Poll(ctx, req.SignatureRef)
	if err != nil {
		metrics.StepErrors.WithLabelValues("signature_check").Inc()
		e.audit(ctx, req.ID, ActionSignatureChecked, "Signature status check failed", OutcomeWarning)
		return CheckResult{}, errors.Wrap(ErrProviderUnavailable, "signature status check", j.KV("request_id", req.ID))
	}

	if !complete {
		if req.SignatureSentAt != nil && e.clock.Since(*req.SignatureSentAt) > e.cfg.MaxSignatureWait {
			e.audit(ctx, req.ID, ActionSignatureTimeout,
				fmt.Sprintf("Signature not completed within %v", e.cfg.MaxSignatureWait), OutcomeWarning)
		} else {
			e.audit(ctx, req.ID, ActionSignatureChecked, "Signature still pending", OutcomeSuccess)
		}

		return CheckResult{}, nil
	}

	signedPath := signedDocumentPath(req.DocumentPath)
	err = e.signer.FetchSigned(ctx, req.SignatureRef, signedPath)
	if errors.Is(err, ErrNotReady) {
		// NoReturnErr: the provider has the signature but the file is not
		// ready yet. Wait state; the next sweep fetches it.
		e.audit(ctx, req.ID, ActionSignatureChecked, "Signed document not ready yet", OutcomeWarning)
		return CheckResult{}, nil
	} else if err != nil {
		metrics.StepErrors.WithLabelValues("signature_fetch").Inc()
		e.audit(ctx, req.ID, ActionDownloadFailed, "Failed to download signed document", OutcomeWarning)
		return CheckResult{}, errors.Wrap(ErrProviderUnavailable, "signed document download", j.KV("request_id", req.ID))
	}

	err = e.transition(ctx, req, StatusSigned, Fields{FieldSignedDocumentPath: signedPath})
	if err != nil {
		return CheckResult{}, err
	}
	req.SignedDocumentPath = signedPath

	e.audit(ctx, req.ID, ActionSignatureComplete, "Document signed and downloaded", OutcomeSuccess)

	res := CheckResult{Completed: true}

	err = e.upload(ctx, req)
	if err != nil {
		return res, err
	}

	res.Uploaded = true
	return res, nil
}

// Upload submits the statement to the grading target. Valid from
// pdf_generated (signature skipped) and signed; a request already uploaded is
// a noop.
func (e *Engine) Upload(ctx context.Context, id int64) error {
	req, err := e.store.Lookup(ctx, id)
	if err != nil {
		return err
	}

	return e.upload(ctx, req)
}

func (e *Engine) upload(ctx context.Context, req *Request) error {
	if req.Status == StatusUploaded {
		metrics.StepSkips.WithLabelValues("upload").Inc()
		return nil
	}

	if req.Status != StatusPDFGenerated && req.Status != StatusSigned {
		return errors.Wrap(ErrIllegalTransition, "upload", j.MKV{
			"request_id": fmt.Sprintf("%d", req.ID),
			"status":     req.Status.String(),
		})
	}

	sub, err := e.grader.SubmitFile(ctx, req.UploadPath(), req.LearnerID, e.cfg.TargetID)
	if err != nil || sub == nil {
		metrics.StepErrors.WithLabelValues("upload").Inc()
		ferr := e.fail(ctx, req, ActionUploadFailed, "Upload to grading target failed")
		if ferr != nil {
			return ferr
		}

		return errors.Wrap(ErrProviderUnavailable, "upload", j.KV("request_id", req.ID))
	}

	err = e.transition(ctx, req, StatusUploaded, nil)
	if err != nil {
		return err
	}

	e.audit(ctx, req.ID, ActionUploadSuccess,
		fmt.Sprintf("Uploaded to grading target - File: %s (%s)", sub.Filename, sub.Method), OutcomeSuccess)

	return nil
}

// SyncGrade pushes the request's overall score (or the override when given)
// to the grading target as the learner's grade.
func (e *Engine) SyncGrade(ctx context.Context, id int64, override *float64) error {
	req, err := e.store.Lookup(ctx, id)
	if err != nil {
		return err
	}

	score := override
	if score == nil {
		score = req.OverallScore
	}
	if score == nil {
		return errors.Wrap(ErrValidation, "no grade available", j.KV("request_id", req.ID))
	}

	feedback := gradeFeedback(*score)
	err = e.grader.SetGrade(ctx, req.LearnerID, e.cfg.TargetID, *score, feedback)
	if err != nil {
		metrics.StepErrors.WithLabelValues("grade_sync").Inc()
		e.audit(ctx, req.ID, ActionGradeSyncFailed, "Failed to sync grade", OutcomeFailed)
		return errors.Wrap(ErrProviderUnavailable, "grade sync", j.KV("request_id", req.ID))
	}

	e.audit(ctx, req.ID, ActionGradeSynced, fmt.Sprintf("Grade synced: %.2f%%", *score), OutcomeSuccess)

	return nil
}

// Reset manually re-enters a failed request at pending. The whole pipeline
// runs again from scratch on the next sweep: data is re-fetched, the score
// recomputed and the document re-rendered.
func (e *Engine) Reset(ctx context.Context, id int64) error {
	req, err := e.store.Lookup(ctx, id)
	if err != nil {
		return err
	}

	if req.Status != StatusFailed {
		return errors.Wrap(ErrIllegalTransition, "reset", j.MKV{
			"request_id": fmt.Sprintf("%d", req.ID),
			"status":     req.Status.String(),
		})
	}

	err = e.transition(ctx, req, StatusPending, Fields{FieldErrorMessage: ""})
	if err != nil {
		return err
	}

	e.audit(ctx, req.ID, ActionRequestReset, "Request manually reset to pending", OutcomeWarning)

	return nil
}

// transition moves the request along a legal edge of the state machine and
// persists the patch in the same update.
func (e *Engine) transition(ctx context.Context, req *Request, to Status, updates Fields) error {
	if !CanTransition(req.Status, to) {
		return errors.Wrap(ErrIllegalTransition, "", j.MKV{
			"request_id": fmt.Sprintf("%d", req.ID),
			"from":       req.Status.String(),
			"to":         to.String(),
		})
	}

	if updates == nil {
		updates = Fields{}
	}
	updates[FieldStatus] = to.String()

	err := e.store.Update(ctx, req.ID, updates)
	if err != nil {
		return errors.Wrap(ErrPersistence, "transition", j.MKV{
			"request_id": fmt.Sprintf("%d", req.ID),
			"to":         to.String(),
		})
	}

	req.Status = to
	return nil
}

// fail marks the request failed with the reason and writes one audit entry.
func (e *Engine) fail(ctx context.Context, req *Request, action, reason string) error {
	err := e.transition(ctx, req, StatusFailed, Fields{FieldErrorMessage: reason})
	if err != nil {
		return err
	}

	e.audit(ctx, req.ID, action, reason, OutcomeError)

	return nil
}

// audit appends one entry to the request's trail. A failed audit write never
// rolls back the transition that produced it but must stay observable, so it
// is logged and counted instead of returned.
func (e *Engine) audit(ctx context.Context, id int64, action, detail string, outcome Outcome) {
	err := e.store.AppendAudit(ctx, id, action, detail, outcome)
	if err != nil {
		// NoReturnErr: the transition already happened; surface the audit
		// failure via logs and metrics rather than failing the step.
		metrics.AuditWriteErrors.Inc()
		log.Error(ctx, errors.Wrap(err, "audit write failed", j.KV("request_id", id)))
	}

	if e.notifier == nil {
		return
	}

	err = e.notifier.Notify(ctx, AuditEntry{
		RequestID: id,
		Action:    action,
		Detail:    detail,
		Outcome:   outcome,
		CreatedAt: e.clock.Now(),
	})
	if err != nil {
		// NoReturnErr: notification is best effort.
		log.Error(ctx, errors.Wrap(err, "audit notify failed", j.KV("request_id", id)))
	}
}

func (e *Engine) fetchLearnerData(ctx context.Context, learnerName string) (*Learner, map[string]string, []AssessmentResult, error) {
	learner, err := e.source.FetchLearner(ctx, learnerName)
	if err != nil {
		return nil, nil, nil, err
	}

	profile, err := e.source.FetchProfile(ctx, learner.ID)
	if err != nil {
		return nil, nil, nil, err
	}

	results, err := e.source.FetchAssessmentResults(ctx, learnerName)
	if err != nil {
		return nil, nil, nil, err
	}

	return learner, profile, results, nil
}

// validateLearner returns the reason the request must hard-fail, or empty.
func validateLearner(learner *Learner, results []AssessmentResult) string {
	if strings.TrimSpace(learner.FirstName) == "" || strings.TrimSpace(learner.LastName) == "" {
		return "Learner full name missing"
	}

	if learner.ID == 0 {
		return "Learner identity missing"
	}

	if len(results) == 0 {
		return "No assessment results found"
	}

	return ""
}

func (e *Engine) documentFilename(learnerName string) string {
	name := strings.ReplaceAll(strings.TrimSpace(learnerName), " ", "_")
	stamp := e.clock.Now().Format("20060102_150405")
	return fmt.Sprintf("SOR_%s_%s_%s.pdf", name, stamp, uuid.NewString()[:8])
}

func signedDocumentPath(documentPath string) string {
	return strings.TrimSuffix(documentPath, ".pdf") + "_SIGNED.pdf"
}

func gradeFeedback(score float64) string {
	return fmt.Sprintf("SOR Assessment completed. Score: %.2f%%", score)
}
