// Package storetest is a conformance suite that all sor.RequestStore
// implementations should be run through.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"

	"github.com/mindworx/sor"
)

func ptr(f float64) *float64 {
	return &f
}

// RunRequestStoreTest runs the conformance suite against a fresh store from
// the factory.
func RunRequestStoreTest(t *testing.T, factory func(t *testing.T) sor.RequestStore) {
	t.Run("create and lookup", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		id, err := store.Create(ctx, &sor.Request{
			LearnerID:    101,
			LearnerName:  "Thandi Mokoena",
			LearnerEmail: "thandi@example.com",
			OverallScore: ptr(68.5),
		})
		require.NoError(t, err)
		require.NotZero(t, id)

		req, err := store.Lookup(ctx, id)
		require.NoError(t, err)
		require.Equal(t, sor.StatusPending, req.Status)
		require.Equal(t, int64(101), req.LearnerID)
		require.Equal(t, "Thandi Mokoena", req.LearnerName)
		require.NotNil(t, req.OverallScore)
		require.Equal(t, 68.5, *req.OverallScore)
		require.False(t, req.CreatedAt.IsZero())
		require.False(t, req.UpdatedAt.IsZero())

		_, err = store.Lookup(ctx, id+1000)
		require.True(t, errors.Is(err, sor.ErrRecordNotFound))
	})

	t.Run("update patches fields and bumps updated_at", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		id, err := store.Create(ctx, &sor.Request{LearnerID: 1, LearnerName: "A B"})
		require.NoError(t, err)

		before, err := store.Lookup(ctx, id)
		require.NoError(t, err)

		sentAt := time.Now().Add(-time.Hour).Truncate(time.Millisecond)
		err = store.Update(ctx, id, sor.Fields{
			sor.FieldStatus:          sor.StatusSignatureSent.String(),
			sor.FieldSignatureRef:    "sig-123",
			sor.FieldSignatureSentAt: sentAt,
			sor.FieldOverallScore:    42.0,
		})
		require.NoError(t, err)

		req, err := store.Lookup(ctx, id)
		require.NoError(t, err)
		require.Equal(t, sor.StatusSignatureSent, req.Status)
		require.Equal(t, "sig-123", req.SignatureRef)
		require.NotNil(t, req.SignatureSentAt)
		require.NotNil(t, req.OverallScore)
		require.Equal(t, 42.0, *req.OverallScore)
		require.False(t, req.UpdatedAt.Before(before.UpdatedAt))

		err = store.Update(ctx, id+1000, sor.Fields{sor.FieldErrorMessage: "x"})
		require.Error(t, err)
	})

	t.Run("idempotent re-render keeps one row", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		id, err := store.Create(ctx, &sor.Request{LearnerID: 1, LearnerName: "A B"})
		require.NoError(t, err)

		err = store.Update(ctx, id, sor.Fields{sor.FieldDocumentPath: "/tmp/one.pdf"})
		require.NoError(t, err)
		err = store.Update(ctx, id, sor.Fields{sor.FieldDocumentPath: "/tmp/two.pdf"})
		require.NoError(t, err)

		reqs, err := store.List(ctx, sor.ListFilter{})
		require.NoError(t, err)
		require.Len(t, reqs, 1)
		require.Equal(t, "/tmp/two.pdf", reqs[0].DocumentPath)
	})

	t.Run("list filters by status most recently updated first", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		first, err := store.Create(ctx, &sor.Request{LearnerID: 1, LearnerName: "First Learner"})
		require.NoError(t, err)
		second, err := store.Create(ctx, &sor.Request{LearnerID: 2, LearnerName: "Second Learner"})
		require.NoError(t, err)

		err = store.Update(ctx, second, sor.Fields{sor.FieldStatus: sor.StatusFailed.String()})
		require.NoError(t, err)

		err = store.Update(ctx, first, sor.Fields{sor.FieldErrorMessage: ""})
		require.NoError(t, err)

		pending := sor.StatusPending
		reqs, err := store.List(ctx, sor.ListFilter{Status: &pending, Limit: 10})
		require.NoError(t, err)
		require.Len(t, reqs, 1)
		require.Equal(t, first, reqs[0].ID)

		all, err := store.List(ctx, sor.ListFilter{Limit: 10})
		require.NoError(t, err)
		require.Len(t, all, 2)
		require.Equal(t, first, all[0].ID)

		one, err := store.List(ctx, sor.ListFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, one, 1)
	})

	t.Run("audit trail is append only newest first", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		id, err := store.Create(ctx, &sor.Request{LearnerID: 1, LearnerName: "A B"})
		require.NoError(t, err)

		err = store.AppendAudit(ctx, id, sor.ActionProcessStarted, "started", sor.OutcomeSuccess)
		require.NoError(t, err)
		err = store.AppendAudit(ctx, id, sor.ActionPDFGenerated, "rendered", sor.OutcomeSuccess)
		require.NoError(t, err)
		err = store.AppendAudit(ctx, id, sor.ActionUploadFailed, "boom", sor.OutcomeError)
		require.NoError(t, err)

		entries, err := store.ListAudit(ctx, id, 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		require.Equal(t, sor.ActionUploadFailed, entries[0].Action)
		require.Equal(t, sor.OutcomeError, entries[0].Outcome)
		require.Equal(t, sor.ActionProcessStarted, entries[2].Action)

		limited, err := store.ListAudit(ctx, id, 2)
		require.NoError(t, err)
		require.Len(t, limited, 2)
	})

	t.Run("stats buckets and overdue detection", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()

		overdueID, err := store.Create(ctx, &sor.Request{LearnerID: 1, LearnerName: "Overdue Learner"})
		require.NoError(t, err)
		err = store.Update(ctx, overdueID, sor.Fields{
			sor.FieldStatus:          sor.StatusSignatureSent.String(),
			sor.FieldSignatureSentAt: time.Now().Add(-8 * 24 * time.Hour),
		})
		require.NoError(t, err)

		recentID, err := store.Create(ctx, &sor.Request{LearnerID: 2, LearnerName: "Recent Learner"})
		require.NoError(t, err)
		err = store.Update(ctx, recentID, sor.Fields{
			sor.FieldStatus:          sor.StatusSignatureSent.String(),
			sor.FieldSignatureSentAt: time.Now().Add(-6 * 24 * time.Hour),
		})
		require.NoError(t, err)

		_, err = store.Create(ctx, &sor.Request{LearnerID: 3, LearnerName: "Pending Learner"})
		require.NoError(t, err)

		stats, err := store.Stats(ctx, 7*24*time.Hour)
		require.NoError(t, err)
		require.Equal(t, 3, stats.Total)
		require.Equal(t, 1, stats.Pending)
		require.Equal(t, 2, stats.SignatureSent)
		require.Equal(t, 1, stats.Overdue)
		require.Equal(t, 3, stats.Recent)
	})
}
