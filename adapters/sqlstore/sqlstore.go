// Package sqlstore provides a MySQL backed sor.RequestStore. The connection
// must be opened with parseTime=true.
package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/mindworx/sor"
)

type SQLStore struct {
	writer *sql.DB
	reader *sql.DB

	requestTableName    string
	requestCols         string
	requestSelectPrefix string

	auditTableName string

	clock clock.Clock
}

type Option func(*SQLStore)

// WithClock replaces the wall clock used for the stats time windows.
func WithClock(c clock.Clock) Option {
	return func(s *SQLStore) {
		s.clock = c
	}
}

func New(writer *sql.DB, reader *sql.DB, requestTable, auditTable string, opts ...Option) *SQLStore {
	s := &SQLStore{
		writer:           writer,
		reader:           reader,
		requestTableName: requestTable,
		auditTableName:   auditTable,
		clock:            clock.RealClock{},
	}

	s.requestCols = " `id`, `learner_id`, `learner_name`, `learner_email`, `status`, `overall_score`, " +
		"`error_message`, `document_path`, `signed_document_path`, `signature_ref`, `signature_sent_at`, " +
		"`created_at`, `updated_at` "
	s.requestSelectPrefix = " select " + s.requestCols + " from " + s.requestTableName + " where "

	for _, opt := range opts {
		opt(s)
	}

	return s
}

var _ sor.RequestStore = (*SQLStore)(nil)

func (s *SQLStore) Create(ctx context.Context, req *sor.Request) (int64, error) {
	resp, err := s.writer.ExecContext(ctx, "insert into "+s.requestTableName+" set "+
		" learner_id=?, learner_name=?, learner_email=?, status=?, overall_score=?, "+
		" created_at=now(), updated_at=now() ",
		req.LearnerID,
		req.LearnerName,
		req.LearnerEmail,
		sor.StatusPending.String(),
		scoreArg(req.OverallScore),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create request", j.MKV{
			"learner_id":   req.LearnerID,
			"learner_name": req.LearnerName,
		})
	}

	return resp.LastInsertId()
}

// updatableCols whitelists the columns an Update patch may touch.
var updatableCols = map[string]bool{
	sor.FieldStatus:             true,
	sor.FieldOverallScore:       true,
	sor.FieldErrorMessage:       true,
	sor.FieldDocumentPath:       true,
	sor.FieldSignedDocumentPath: true,
	sor.FieldSignatureRef:       true,
	sor.FieldSignatureSentAt:    true,
}

func (s *SQLStore) Update(ctx context.Context, id int64, updates sor.Fields) error {
	if len(updates) == 0 {
		return nil
	}

	var (
		setClause string
		args      []any
	)
	for field, value := range updates {
		if !updatableCols[field] {
			return errors.Wrap(sor.ErrPersistence, "unknown update field", j.KV("field", field))
		}

		setClause += " `" + field + "`=?,"
		args = append(args, value)
	}
	args = append(args, id)

	resp, err := s.writer.ExecContext(ctx,
		"update "+s.requestTableName+" set "+setClause+" updated_at=now() where id=?",
		args...,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update request", j.KV("id", id))
	}

	n, err := resp.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		// Zero rows can also mean a no-op patch; confirm existence.
		_, err := s.Lookup(ctx, id)
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLStore) Lookup(ctx context.Context, id int64) (*sor.Request, error) {
	return requestScan(s.reader.QueryRowContext(ctx, s.requestSelectPrefix+"id=?", id))
}

func (s *SQLStore) List(ctx context.Context, filter sor.ListFilter) ([]sor.Request, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var (
		where string
		args  []any
	)
	if filter.Status != nil {
		where = "status=?"
		args = append(args, filter.Status.String())
	} else {
		where = "true"
	}
	args = append(args, limit)

	return s.listWhere(ctx, where+" order by updated_at desc, id desc limit ?", args...)
}

func (s *SQLStore) AppendAudit(ctx context.Context, requestID int64, action, detail string, outcome sor.Outcome) error {
	_, err := s.writer.ExecContext(ctx, "insert into "+s.auditTableName+" set "+
		" request_id=?, action=?, detail=?, outcome=?, created_at=now() ",
		requestID,
		action,
		detail,
		string(outcome),
	)
	if err != nil {
		return errors.Wrap(err, "failed to append audit entry", j.MKV{
			"request_id": requestID,
			"action":     action,
		})
	}

	return nil
}

func (s *SQLStore) ListAudit(ctx context.Context, requestID int64, limit int) ([]sor.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.reader.QueryContext(ctx,
		"select `id`, `request_id`, `action`, `detail`, `outcome`, `created_at` from "+s.auditTableName+
			" where request_id=? order by id desc limit ?",
		requestID, limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "listAudit")
	}
	defer rows.Close()

	var out []sor.AuditEntry
	for rows.Next() {
		var (
			e       sor.AuditEntry
			detail  sql.NullString
			outcome string
		)
		err := rows.Scan(&e.ID, &e.RequestID, &e.Action, &detail, &outcome, &e.CreatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "auditScan")
		}

		e.Detail = detail.String
		e.Outcome = sor.Outcome(outcome)
		out = append(out, e)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return out, nil
}

func (s *SQLStore) Stats(ctx context.Context, overdueAfter time.Duration) (sor.Stats, error) {
	var stats sor.Stats

	rows, err := s.reader.QueryContext(ctx,
		"select status, count(*) from "+s.requestTableName+" group by status")
	if err != nil {
		return stats, errors.Wrap(err, "stats")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		err := rows.Scan(&status, &count)
		if err != nil {
			return stats, errors.Wrap(err, "statsScan")
		}

		stats.Total += count

		parsed, err := sor.ParseStatus(status)
		if err != nil {
			return stats, err
		}

		switch parsed {
		case sor.StatusPending:
			stats.Pending = count
		case sor.StatusPDFGenerated:
			stats.PDFGenerated = count
		case sor.StatusSignatureSent:
			stats.SignatureSent = count
		case sor.StatusSigned:
			stats.Signed = count
		case sor.StatusUploaded:
			stats.Uploaded = count
		case sor.StatusFailed:
			stats.Failed = count
		}
	}
	if rows.Err() != nil {
		return stats, errors.Wrap(rows.Err(), "rows")
	}

	now := s.clock.Now()

	err = s.reader.QueryRowContext(ctx,
		"select count(*) from "+s.requestTableName+
			" where status=? and signature_sent_at is not null and signature_sent_at < ?",
		sor.StatusSignatureSent.String(), now.Add(-overdueAfter),
	).Scan(&stats.Overdue)
	if err != nil {
		return stats, errors.Wrap(err, "overdue")
	}

	err = s.reader.QueryRowContext(ctx,
		"select count(*) from "+s.requestTableName+" where created_at > ?",
		now.Add(-24*time.Hour),
	).Scan(&stats.Recent)
	if err != nil {
		return stats, errors.Wrap(err, "recent")
	}

	return stats, nil
}

func scoreArg(score *float64) any {
	if score == nil {
		return nil
	}
	return *score
}
