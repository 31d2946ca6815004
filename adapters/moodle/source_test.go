package moodle_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/corverroos/truss"
	_ "github.com/go-sql-driver/mysql"
	"github.com/luno/jettison/errors"
	"github.com/stretchr/testify/require"

	"github.com/mindworx/sor"
	"github.com/mindworx/sor/adapters/moodle"
)

var migrations = []string{
	`
	create table mdl_user (
		id        bigint not null auto_increment,
		firstname varchar(100) not null,
		lastname  varchar(100) not null,
		email     varchar(100),

		primary key (id)
	)`,
	`
	create table mdl_user_info_field (
		id   bigint not null auto_increment,
		name varchar(255) not null,

		primary key (id)
	)`,
	`
	create table mdl_user_info_data (
		id      bigint not null auto_increment,
		userid  bigint not null,
		fieldid bigint not null,
		data    text,

		primary key (id)
	)`,
	`
	create table mdl_quiz (
		id        bigint not null auto_increment,
		name      varchar(255) not null,
		sumgrades double not null,

		primary key (id)
	)`,
	`
	create table mdl_quiz_attempts (
		id        bigint not null auto_increment,
		userid    bigint not null,
		quiz      bigint not null,
		sumgrades double,

		primary key (id)
	)`,
}

func setupSource(t *testing.T) (*sql.DB, *moodle.Source) {
	dbc := truss.ConnectForTesting(t, migrations...)
	return dbc, moodle.NewSource(dbc, []int64{12, 13})
}

func seedLearner(t *testing.T, dbc *sql.DB) int64 {
	res, err := dbc.Exec("insert into mdl_user set firstname='Thandi', lastname='Mokoena', email='thandi@example.com'")
	require.NoError(t, err)

	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func TestFetchLearner(t *testing.T) {
	dbc, source := setupSource(t)
	ctx := context.Background()

	id := seedLearner(t, dbc)

	learner, err := source.FetchLearner(ctx, "Thandi Mokoena")
	require.NoError(t, err)
	require.Equal(t, id, learner.ID)
	require.Equal(t, "Thandi", learner.FirstName)
	require.Equal(t, "Mokoena", learner.LastName)
	require.Equal(t, "thandi@example.com", learner.Email)
	require.Equal(t, "Thandi Mokoena", learner.FullName())

	_, err = source.FetchLearner(ctx, "Nobody Here")
	require.True(t, errors.Is(err, sor.ErrDataUnavailable))
}

func TestFetchProfile(t *testing.T) {
	dbc, source := setupSource(t)
	ctx := context.Background()

	id := seedLearner(t, dbc)

	_, err := dbc.Exec("insert into mdl_user_info_field set id=1, name='registration_number'")
	require.NoError(t, err)
	_, err = dbc.Exec("insert into mdl_user_info_field set id=2, name='dob'")
	require.NoError(t, err)
	_, err = dbc.Exec("insert into mdl_user_info_data set userid=?, fieldid=1, data='R-123'", id)
	require.NoError(t, err)
	_, err = dbc.Exec("insert into mdl_user_info_data set userid=?, fieldid=2, data=null", id)
	require.NoError(t, err)

	profile, err := source.FetchProfile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"registration_number": "R-123",
		"dob":                 "",
	}, profile)

	// Unknown learner just has no profile data.
	profile, err = source.FetchProfile(ctx, id+100)
	require.NoError(t, err)
	require.Empty(t, profile)
}

func TestFetchAssessmentResults(t *testing.T) {
	dbc, source := setupSource(t)
	ctx := context.Background()

	id := seedLearner(t, dbc)

	_, err := dbc.Exec("insert into mdl_quiz set id=12, name='Theory', sumgrades=100")
	require.NoError(t, err)
	_, err = dbc.Exec("insert into mdl_quiz set id=13, name='Practical', sumgrades=60")
	require.NoError(t, err)
	_, err = dbc.Exec("insert into mdl_quiz set id=99, name='Not Counted', sumgrades=10")
	require.NoError(t, err)

	_, err = dbc.Exec("insert into mdl_quiz_attempts set userid=?, quiz=12, sumgrades=80", id)
	require.NoError(t, err)
	_, err = dbc.Exec("insert into mdl_quiz_attempts set userid=?, quiz=13, sumgrades=null", id)
	require.NoError(t, err)
	_, err = dbc.Exec("insert into mdl_quiz_attempts set userid=?, quiz=99, sumgrades=5", id)
	require.NoError(t, err)

	results, err := source.FetchAssessmentResults(ctx, "Thandi Mokoena")
	require.NoError(t, err)

	// Only the configured quizzes count, and ungraded attempts are excluded.
	require.Len(t, results, 1)
	require.Equal(t, sor.AssessmentResult{
		AssessmentID: 12,
		Name:         "Theory",
		RawScore:     80,
		MaxScore:     100,
	}, results[0])

	results, err = source.FetchAssessmentResults(ctx, "Nobody Here")
	require.NoError(t, err)
	require.Empty(t, results)
}
