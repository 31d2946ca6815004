package sqlstore_test

import (
	"database/sql"
	"testing"

	"github.com/corverroos/truss"
	_ "github.com/go-sql-driver/mysql"
)

var migrations = []string{
	`
	create table sor_requests (
		id                     bigint not null auto_increment,
		learner_id             bigint not null,
		learner_name           varchar(255) not null,
		learner_email          varchar(255),
		status                 varchar(32) not null,
		overall_score          double,
		error_message          varchar(1024),
		document_path          varchar(1024),
		signed_document_path   varchar(1024),
		signature_ref          varchar(255),
		signature_sent_at      datetime(3),
		created_at             datetime(3) not null,
		updated_at             datetime(3) not null,

		primary key(id),

		index by_status_updated_at (status, updated_at),
		index by_learner_id (learner_id)
	)`,
	`
	create table sor_audit_log (
		id             bigint not null auto_increment,
		request_id     bigint not null,
		action         varchar(64) not null,
		detail         varchar(1024),
		outcome        varchar(16) not null,
		created_at     datetime(3) not null,

		primary key (id),

		index by_request_id (request_id)
	)
`,
}

func ConnectForTesting(t *testing.T) *sql.DB {
	return truss.ConnectForTesting(t, migrations...)
}
