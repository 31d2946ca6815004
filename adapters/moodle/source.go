// Package moodle adapts a Moodle LMS install as both the learner data source
// (read directly off the Moodle database) and the grading target (via the
// Moodle webservice API).
package moodle

import (
	"context"
	"database/sql"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/mindworx/sor"
)

// Source reads learner records off the Moodle database. It only ever reads;
// all writes go through the webservice Client.
type Source struct {
	db *sql.DB

	// quizIDs are the quiz instances that count towards the statement.
	quizIDs []int64
}

func NewSource(db *sql.DB, quizIDs []int64) *Source {
	return &Source{
		db:      db,
		quizIDs: quizIDs,
	}
}

var _ sor.DataSource = (*Source)(nil)

// FetchLearner resolves a learner by display name. Moodle has no single
// fullname column so the match is on the concatenated name.
func (s *Source) FetchLearner(ctx context.Context, learnerName string) (*sor.Learner, error) {
	var (
		l     sor.Learner
		email sql.NullString
	)

	err := s.db.QueryRowContext(ctx,
		"select id, firstname, lastname, email from mdl_user "+
			"where concat(firstname, ' ', lastname)=? limit 1",
		learnerName,
	).Scan(&l.ID, &l.FirstName, &l.LastName, &email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(sor.ErrDataUnavailable, "learner not found", j.KV("learner_name", learnerName))
	} else if err != nil {
		return nil, errors.Wrap(err, "fetch learner", j.KV("learner_name", learnerName))
	}

	l.Email = email.String

	return &l, nil
}

// FetchProfile returns the learner's custom profile fields keyed by field
// name.
func (s *Source) FetchProfile(ctx context.Context, learnerID int64) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"select f.name, d.data from mdl_user_info_data d "+
			"join mdl_user_info_field f on d.fieldid = f.id "+
			"where d.userid=?",
		learnerID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "fetch profile", j.KV("learner_id", learnerID))
	}
	defer rows.Close()

	profile := make(map[string]string)
	for rows.Next() {
		var (
			name string
			data sql.NullString
		)
		err := rows.Scan(&name, &data)
		if err != nil {
			return nil, errors.Wrap(err, "profile scan")
		}

		profile[name] = data.String
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return profile, nil
}

// FetchAssessmentResults returns the learner's attempts at the configured
// quizzes. Attempts without a grade yet are excluded.
func (s *Source) FetchAssessmentResults(ctx context.Context, learnerName string) ([]sor.AssessmentResult, error) {
	if len(s.quizIDs) == 0 {
		return nil, nil
	}

	args := []any{learnerName}
	placeholders := make([]string, 0, len(s.quizIDs))
	for _, id := range s.quizIDs {
		placeholders = append(placeholders, "?")
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		"select q.id, q.name, qa.sumgrades, q.sumgrades from mdl_quiz_attempts qa "+
			"join mdl_user u on qa.userid = u.id "+
			"join mdl_quiz q on qa.quiz = q.id "+
			"where concat(u.firstname, ' ', u.lastname)=? "+
			"and qa.quiz in ("+strings.Join(placeholders, ",")+")",
		args...,
	)
	if err != nil {
		return nil, errors.Wrap(err, "fetch results", j.KV("learner_name", learnerName))
	}
	defer rows.Close()

	var results []sor.AssessmentResult
	for rows.Next() {
		var (
			res      sor.AssessmentResult
			rawScore sql.NullFloat64
		)
		err := rows.Scan(&res.AssessmentID, &res.Name, &rawScore, &res.MaxScore)
		if err != nil {
			return nil, errors.Wrap(err, "result scan")
		}

		if !rawScore.Valid {
			continue
		}
		res.RawScore = rawScore.Float64

		results = append(results, res)
	}

	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	return results, nil
}
