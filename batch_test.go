package sor_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"

	"github.com/mindworx/sor"
	"github.com/mindworx/sor/adapters/memstore"
)

// mapSource serves multiple learners, keyed by name.
type mapSource struct {
	learners map[string]*sor.Learner
	results  map[string][]sor.AssessmentResult
	errs     map[string]error
}

func (m *mapSource) FetchLearner(ctx context.Context, learnerName string) (*sor.Learner, error) {
	if err := m.errs[learnerName]; err != nil {
		return nil, err
	}
	return m.learners[learnerName], nil
}

func (m *mapSource) FetchProfile(ctx context.Context, learnerID int64) (map[string]string, error) {
	return map[string]string{}, nil
}

func (m *mapSource) FetchAssessmentResults(ctx context.Context, learnerName string) ([]sor.AssessmentResult, error) {
	return m.results[learnerName], nil
}

// batchSigner issues a distinct reference per send and completes the refs
// listed in completed.
type batchSigner struct {
	sends     int
	sendErr   error
	completed map[string]bool
}

func (b *batchSigner) Send(ctx context.Context, documentPath, signerName, signerEmail string) (string, error) {
	b.sends++
	if b.sendErr != nil {
		return "", b.sendErr
	}
	return fmt.Sprintf("ref-%d", b.sends), nil
}

func (b *batchSigner) Poll(ctx context.Context, ref string) (bool, error) {
	return b.completed[ref], nil
}

func (b *batchSigner) FetchSigned(ctx context.Context, ref, outputPath string) error {
	return nil
}

func setupBatch(t *testing.T, cfg sor.Config, learners int) (*sor.Engine, *mapSource, *batchSigner, *fakeGrader) {
	source := &mapSource{
		learners: make(map[string]*sor.Learner),
		results:  make(map[string][]sor.AssessmentResult),
		errs:     make(map[string]error),
	}
	for i := 1; i <= learners; i++ {
		name := fmt.Sprintf("Learner %d", i)
		source.learners[name] = &sor.Learner{
			ID:        int64(i),
			FirstName: "Learner",
			LastName:  fmt.Sprintf("%d", i),
			Email:     fmt.Sprintf("learner%d@example.com", i),
		}
		source.results[name] = []sor.AssessmentResult{
			{AssessmentID: 1, RawScore: 80, MaxScore: 100},
			{AssessmentID: 2, RawScore: 50, MaxScore: 100},
		}
	}

	if cfg.Weights == nil {
		cfg.Weights = map[int64]float64{1: 0.6, 2: 0.4}
	}
	cfg.DocumentDir = t.TempDir()
	cfg.TargetID = 42

	signer := &batchSigner{completed: make(map[string]bool)}
	grader := &fakeGrader{}

	e := sor.NewEngine(memstore.New(), source, &fakeRenderer{}, signer, grader, cfg)

	for i := 1; i <= learners; i++ {
		_, err := e.CreateRequest(context.Background(), int64(i),
			fmt.Sprintf("Learner %d", i), fmt.Sprintf("learner%d@example.com", i))
		require.NoError(t, err)
	}

	return e, source, signer, grader
}

func statusCounts(t *testing.T, e *sor.Engine) map[sor.Status]int {
	reqs, err := e.Store().List(context.Background(), sor.ListFilter{})
	require.NoError(t, err)

	counts := make(map[sor.Status]int)
	for _, req := range reqs {
		counts[req.Status]++
	}
	return counts
}

func TestRunPendingIsolation(t *testing.T) {
	e, source, _, _ := setupBatch(t, sor.Config{ParallelCount: 2}, 3)
	ctx := context.Background()

	// One learner's data disappears; the other two must still go through.
	source.errs["Learner 2"] = errors.Wrap(sor.ErrDataUnavailable, "learner not found")

	summary, err := e.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Processed)
	require.Equal(t, 2, summary.Success)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)

	counts := statusCounts(t, e)
	require.Equal(t, 2, counts[sor.StatusSignatureSent])
	require.Equal(t, 1, counts[sor.StatusFailed])
}

func TestRunPendingResumesSoftSendFailures(t *testing.T) {
	e, _, signer, _ := setupBatch(t, sor.Config{}, 2)
	ctx := context.Background()

	// Break the provider so sends soft-fail and requests park in
	// pdf_generated.
	signer.sendErr = errors.New("provider 503")

	summary, err := e.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 2, summary.Success)

	counts := statusCounts(t, e)
	require.Equal(t, 2, counts[sor.StatusPDFGenerated])

	// The next sweep picks them up again and retries the send only.
	signer.sendErr = nil
	summary, err = e.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 2, summary.Success)

	counts = statusCounts(t, e)
	require.Equal(t, 2, counts[sor.StatusSignatureSent])
}

func TestRunPendingResumesSignedUpload(t *testing.T) {
	e, _, _, grader := setupBatch(t, sor.Config{}, 1)
	ctx := context.Background()

	_, err := e.RunPending(ctx)
	require.NoError(t, err)

	// Simulate a run that died after marking the request signed but before
	// submitting the file.
	reqs, err := e.Store().List(ctx, sor.ListFilter{})
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.NoError(t, e.Store().Update(ctx, reqs[0].ID, sor.Fields{
		sor.FieldStatus:             sor.StatusSigned.String(),
		sor.FieldSignedDocumentPath: reqs[0].DocumentPath,
	}))

	// The next pending sweep finishes the upload.
	summary, err := e.RunPending(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)
	require.Equal(t, 1, summary.Success)
	require.Equal(t, 1, grader.submits)

	counts := statusCounts(t, e)
	require.Equal(t, 1, counts[sor.StatusUploaded])
}

func TestRunSignatureCheck(t *testing.T) {
	e, _, signer, grader := setupBatch(t, sor.Config{}, 3)
	ctx := context.Background()

	_, err := e.RunPending(ctx)
	require.NoError(t, err)

	// Only the first signer has signed so far.
	signer.completed["ref-1"] = true

	summary, err := e.RunSignatureCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Checked)
	require.Equal(t, 1, summary.Completed)
	require.Equal(t, 1, summary.Uploaded)
	require.Equal(t, 2, summary.Pending)
	require.Equal(t, 1, grader.submits)

	counts := statusCounts(t, e)
	require.Equal(t, 1, counts[sor.StatusUploaded])
	require.Equal(t, 2, counts[sor.StatusSignatureSent])

	// The stragglers complete on a later sweep.
	signer.completed["ref-2"] = true
	signer.completed["ref-3"] = true

	summary, err = e.RunSignatureCheck(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Checked)
	require.Equal(t, 2, summary.Completed)
	require.Equal(t, 2, summary.Uploaded)

	counts = statusCounts(t, e)
	require.Equal(t, 3, counts[sor.StatusUploaded])
}

func TestRunBulkGradeSync(t *testing.T) {
	e, _, signer, grader := setupBatch(t, sor.Config{}, 2)
	ctx := context.Background()

	_, err := e.RunPending(ctx)
	require.NoError(t, err)
	signer.completed["ref-1"] = true
	signer.completed["ref-2"] = true
	_, err = e.RunSignatureCheck(ctx)
	require.NoError(t, err)

	// Partial failure is per item.
	grader.batchResults = []sor.GradeResult{
		{LearnerID: 1, OK: true},
		{LearnerID: 2, OK: false, Message: "grade locked"},
	}

	summary, err := e.RunBulkGradeSync(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Synced)
	require.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	require.Contains(t, summary.Errors[0], "grade locked")

	require.Len(t, grader.grades, 2)
	require.Equal(t, 68.00, grader.grades[0].Score)
}

func TestRunBulkGradeSyncUnknownLearner(t *testing.T) {
	e, _, signer, grader := setupBatch(t, sor.Config{}, 1)
	ctx := context.Background()

	_, err := e.RunPending(ctx)
	require.NoError(t, err)
	signer.completed["ref-1"] = true
	_, err = e.RunSignatureCheck(ctx)
	require.NoError(t, err)

	// The grading target answers for a learner we never submitted.
	grader.batchResults = []sor.GradeResult{
		{LearnerID: 1, OK: true},
		{LearnerID: 99, OK: true},
	}

	summary, err := e.RunBulkGradeSync(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Equal(t, 1, summary.Synced)
	require.Zero(t, summary.Failed)
	require.Len(t, summary.Errors, 1)
	require.Contains(t, summary.Errors[0], "unknown learner")

	// The stray result never lands an audit entry on a phantom request.
	entries, err := e.Store().ListAudit(ctx, 0, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunBulkGradeSyncNothingToDo(t *testing.T) {
	e, _, _, grader := setupBatch(t, sor.Config{}, 2)
	ctx := context.Background()

	// Nothing uploaded yet.
	summary, err := e.RunBulkGradeSync(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Total)
	require.Empty(t, grader.grades)
}

func TestRunScoreRecalc(t *testing.T) {
	e, source, _, _ := setupBatch(t, sor.Config{}, 2)
	ctx := context.Background()

	// Learner 1's results change after creation; learner 2's don't.
	source.results["Learner 1"] = []sor.AssessmentResult{
		{AssessmentID: 1, RawScore: 90, MaxScore: 100},
		{AssessmentID: 2, RawScore: 90, MaxScore: 100},
	}

	summary, err := e.RunScoreRecalc(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Total)
	require.Equal(t, 1, summary.Updated)
	require.Equal(t, 1, summary.Skipped)

	reqs, err := e.Store().List(ctx, sor.ListFilter{})
	require.NoError(t, err)
	for _, req := range reqs {
		require.NotNil(t, req.OverallScore)
		if req.LearnerName == "Learner 1" {
			require.Equal(t, 90.00, *req.OverallScore)
		} else {
			require.Equal(t, 68.00, *req.OverallScore)
		}
	}
}

func TestRunScoreRecalcSkipsMissingData(t *testing.T) {
	e, source, _, _ := setupBatch(t, sor.Config{}, 1)
	ctx := context.Background()

	source.results["Learner 1"] = nil

	summary, err := e.RunScoreRecalc(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Total)
	require.Zero(t, summary.Updated)
	require.Equal(t, 1, summary.Skipped)
	require.Len(t, summary.Errors, 1)
}
