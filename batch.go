package sor

import (
	"context"
	"fmt"
	"sync"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/mindworx/sor/internal/metrics"
)

// PendingSummary aggregates one pending sweep.
type PendingSummary struct {
	Processed int
	Success   int
	Failed    int
	Errors    []string
}

// RunPending drives every pending request through the pipeline, and resumes
// requests stranded mid-run: pdf_generated requests whose signature send
// previously soft-failed, and signed requests whose chained upload never
// completed. One request's failure never aborts its siblings. Work is
// sharded across the configured number of workers by request ID so a
// request is only ever driven by one worker.
func (e *Engine) RunPending(ctx context.Context) (PendingSummary, error) {
	var summary PendingSummary

	reqs, err := e.listSweep(ctx, StatusPending, StatusPDFGenerated, StatusSigned)
	if err != nil {
		return summary, err
	}

	metrics.SweepSize.WithLabelValues("pending").Set(float64(len(reqs)))

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)

	shards := e.cfg.ParallelCount
	for shard := 0; shard < shards; shard++ {
		wg.Add(1)
		go func(shard int) {
			defer wg.Done()

			for _, req := range reqs {
				if req.ID%int64(shards) != int64(shard) {
					continue
				}

				perr := e.ProcessRequest(ctx, req.ID)

				mu.Lock()
				summary.Processed++
				if perr != nil {
					summary.Failed++
					summary.Errors = append(summary.Errors, fmt.Sprintf("ID %d: %v", req.ID, perr))
				} else {
					summary.Success++
				}
				mu.Unlock()
			}
		}(shard)
	}

	wg.Wait()

	return summary, nil
}

// SignatureSummary aggregates one signature check sweep.
type SignatureSummary struct {
	Checked   int
	Completed int
	Pending   int
	Uploaded  int
	Errors    []string
}

// RunSignatureCheck polls every signature_sent request that holds a provider
// reference. Completed signatures are downloaded and immediately submitted
// to the grading target as a chained step.
func (e *Engine) RunSignatureCheck(ctx context.Context) (SignatureSummary, error) {
	var summary SignatureSummary

	reqs, err := e.listSweep(ctx, StatusSignatureSent)
	if err != nil {
		return summary, err
	}

	metrics.SweepSize.WithLabelValues("signature_check").Set(float64(len(reqs)))

	for _, req := range reqs {
		if req.SignatureRef == "" {
			continue
		}

		summary.Checked++

		res, cerr := e.CheckSignature(ctx, req.ID)
		if res.Completed {
			summary.Completed++
		}
		if res.Uploaded {
			summary.Uploaded++
		}
		if cerr != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("ID %d: %v", req.ID, cerr))
			continue
		}
		if !res.Completed {
			summary.Pending++
		}
	}

	return summary, nil
}

// GradeSyncSummary aggregates one bulk grade push.
type GradeSyncSummary struct {
	Total   int
	Synced  int
	Failed  int
	Results []GradeResult
	Errors  []string
}

// RunBulkGradeSync pushes the grade of every uploaded request with a known
// score to the grading target in a single batch call. Partial failure is
// per item; some grades may land while others fail.
func (e *Engine) RunBulkGradeSync(ctx context.Context) (GradeSyncSummary, error) {
	var summary GradeSyncSummary

	reqs, err := e.listSweep(ctx, StatusUploaded)
	if err != nil {
		return summary, err
	}

	var (
		grades    []Grade
		requestID = make(map[int64]int64)
	)
	for _, req := range reqs {
		if req.OverallScore == nil {
			continue
		}

		grades = append(grades, Grade{
			LearnerID: req.LearnerID,
			Score:     *req.OverallScore,
			Feedback:  gradeFeedback(*req.OverallScore),
		})
		if _, ok := requestID[req.LearnerID]; !ok {
			requestID[req.LearnerID] = req.ID
		}
	}

	summary.Total = len(grades)
	metrics.SweepSize.WithLabelValues("grade_sync").Set(float64(len(grades)))

	if len(grades) == 0 {
		return summary, nil
	}

	results, err := e.grader.SetGrades(ctx, e.cfg.TargetID, grades)
	if err != nil {
		return summary, errors.Wrap(ErrProviderUnavailable, "bulk grade sync", j.KV("grades", len(grades)))
	}

	summary.Results = results
	for _, res := range results {
		id, ok := requestID[res.LearnerID]
		if !ok {
			// The grading target answered for a learner we never submitted;
			// record it without attributing an audit entry to any request.
			summary.Errors = append(summary.Errors, fmt.Sprintf("learner %d: result for unknown learner", res.LearnerID))
			continue
		}
		if res.OK {
			summary.Synced++
			e.audit(ctx, id, ActionGradeSynced, fmt.Sprintf("Grade synced for learner %d", res.LearnerID), OutcomeSuccess)
		} else {
			summary.Failed++
			summary.Errors = append(summary.Errors, fmt.Sprintf("learner %d: %s", res.LearnerID, res.Message))
			e.audit(ctx, id, ActionGradeSyncFailed, res.Message, OutcomeWarning)
		}
	}

	return summary, nil
}

// RecalcSummary aggregates one score recalculation sweep.
type RecalcSummary struct {
	Total   int
	Updated int
	Skipped int
	Errors  []string
}

// RunScoreRecalc re-derives every request's overall score from fresh data
// and patches the ones that drifted. Scores shown on the dashboard and
// printed on statements always come from the same calculator, so drift only
// occurs when the underlying results change after creation.
func (e *Engine) RunScoreRecalc(ctx context.Context) (RecalcSummary, error) {
	var summary RecalcSummary

	reqs, err := e.store.List(ctx, ListFilter{Limit: e.cfg.ListLimit})
	if err != nil {
		return summary, err
	}

	summary.Total = len(reqs)

	for _, req := range reqs {
		results, ferr := e.source.FetchAssessmentResults(ctx, req.LearnerName)
		if ferr != nil || len(results) == 0 {
			summary.Skipped++
			summary.Errors = append(summary.Errors, fmt.Sprintf("ID %d: no learner data", req.ID))
			continue
		}

		score := ComputeOverallScore(results, e.cfg.Weights)
		if req.OverallScore != nil && *req.OverallScore == score {
			summary.Skipped++
			continue
		}

		uerr := e.store.Update(ctx, req.ID, Fields{FieldOverallScore: score})
		if uerr != nil {
			summary.Skipped++
			summary.Errors = append(summary.Errors, fmt.Sprintf("ID %d: %v", req.ID, uerr))
			continue
		}

		e.audit(ctx, req.ID, ActionScoreRecalced, fmt.Sprintf("Score recalculated: %.2f%%", score), OutcomeSuccess)
		summary.Updated++
	}

	return summary, nil
}

// listSweep lists the requests a sweep should pick up, oldest statuses first
// in the order given.
func (e *Engine) listSweep(ctx context.Context, statuses ...Status) ([]Request, error) {
	var out []Request
	for _, status := range statuses {
		status := status
		reqs, err := e.store.List(ctx, ListFilter{Status: &status, Limit: e.cfg.ListLimit})
		if err != nil {
			return nil, err
		}

		out = append(out, reqs...)
	}

	return out, nil
}
