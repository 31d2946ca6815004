package sor

import "context"

// Learner identifies the subject of a statement within the LMS.
type Learner struct {
	ID        int64
	FirstName string
	LastName  string
	Email     string
}

func (l Learner) FullName() string {
	return l.FirstName + " " + l.LastName
}

// DataSource reads learner records out of the LMS. Implementations must fail
// explicitly rather than silently returning partial data so the engine can
// distinguish "no learner" from "no results" from a connection error.
type DataSource interface {
	// FetchLearner resolves a learner by their full display name and returns
	// ErrDataUnavailable when no such learner exists.
	FetchLearner(ctx context.Context, learnerName string) (*Learner, error)

	// FetchProfile returns the learner's custom profile fields keyed by
	// field name. A learner with no profile data returns an empty map.
	FetchProfile(ctx context.Context, learnerID int64) (map[string]string, error)

	// FetchAssessmentResults returns all scored attempts for the learner. An
	// empty slice means the learner has completed none of the configured
	// assessments; it is not an error at this layer.
	FetchAssessmentResults(ctx context.Context, learnerName string) ([]AssessmentResult, error)
}

// ReportData is the aggregated input handed to the renderer.
type ReportData struct {
	Learner      Learner
	Profile      map[string]string
	Results      []AssessmentResult
	OverallScore float64
}

// DocumentRenderer produces the statement artifact. Layout is entirely the
// renderer's concern; the engine only cares whether a file was produced.
type DocumentRenderer interface {
	// Render writes the statement to outputPath and returns the path of the
	// artifact actually produced. Any error is classified by the engine as a
	// render failure.
	Render(ctx context.Context, data ReportData, outputPath string) (string, error)
}

// SignatureProvider is the e-signature vendor.
type SignatureProvider interface {
	// Send routes the document for signature and returns the vendor-assigned
	// reference token.
	Send(ctx context.Context, documentPath, signerName, signerEmail string) (string, error)

	// Poll reports whether the signature request has been completed.
	Poll(ctx context.Context, ref string) (bool, error)

	// FetchSigned downloads the signed artifact to outputPath. A provider
	// side "not ready yet" returns ErrNotReady, which is a wait state that
	// the next sweep retries, distinct from a hard error.
	FetchSigned(ctx context.Context, ref, outputPath string) error
}

// Submission describes a successful upload into the grading target.
type Submission struct {
	Filename     string
	Method       string
	SubmissionID int64
}

// Grade is one learner's grade pushed to the grading target.
type Grade struct {
	LearnerID int64
	Score     float64
	Feedback  string
}

// GradeResult is the per-item outcome of a bulk grade push.
type GradeResult struct {
	LearnerID int64
	OK        bool
	Message   string
}

// GradingTarget is the LMS assignment endpoint that receives the finished
// statement and the learner's grade.
type GradingTarget interface {
	SubmitFile(ctx context.Context, documentPath string, learnerID, targetID int64) (*Submission, error)

	SetGrade(ctx context.Context, learnerID, targetID int64, score float64, feedback string) error

	// SetGrades pushes a batch of grades. Partial failure is reported per
	// item, never atomically; some grades may land while others fail.
	SetGrades(ctx context.Context, targetID int64, grades []Grade) ([]GradeResult, error)
}
