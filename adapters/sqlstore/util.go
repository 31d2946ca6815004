package sqlstore

import (
	"context"
	"database/sql"

	"github.com/luno/jettison/errors"

	"github.com/mindworx/sor"
)

// listWhere queries the request table with the provided where clause, then
// scans and returns all the rows.
func (s *SQLStore) listWhere(ctx context.Context, where string, args ...any) ([]sor.Request, error) {
	rows, err := s.reader.QueryContext(ctx, s.requestSelectPrefix+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listWhere")
	}
	defer rows.Close()

	var res []sor.Request
	for rows.Next() {
		r, err := requestScan(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *r)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return res, nil
}

func requestScan(row row) (*sor.Request, error) {
	var (
		r          sor.Request
		email      sql.NullString
		status     string
		score      sql.NullFloat64
		errMsg     sql.NullString
		docPath    sql.NullString
		signedPath sql.NullString
		sigRef     sql.NullString
		sigSentAt  sql.NullTime
	)

	err := row.Scan(
		&r.ID,
		&r.LearnerID,
		&r.LearnerName,
		&email,
		&status,
		&score,
		&errMsg,
		&docPath,
		&signedPath,
		&sigRef,
		&sigSentAt,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(sor.ErrRecordNotFound, "")
	} else if err != nil {
		return nil, errors.Wrap(err, "requestScan")
	}

	r.LearnerEmail = email.String
	r.ErrorMessage = errMsg.String
	r.DocumentPath = docPath.String
	r.SignedDocumentPath = signedPath.String
	r.SignatureRef = sigRef.String

	r.Status, err = sor.ParseStatus(status)
	if err != nil {
		return nil, err
	}

	if score.Valid {
		r.OverallScore = &score.Float64
	}
	if sigSentAt.Valid {
		at := sigSentAt.Time
		r.SignatureSentAt = &at
	}

	return &r, nil
}

// row is a common interface for *sql.Rows and *sql.Row.
type row interface {
	Scan(dest ...any) error
}
