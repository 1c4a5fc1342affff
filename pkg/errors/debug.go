package errors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrorDump is the log-side view of an error: the typed code, the unwrap
// chain and any Postgres diagnostics found along it.
type ErrorDump struct {
	TopMessage string   `json:"top_message"`
	Code       Code     `json:"code,omitempty"`
	Chain      []string `json:"chain,omitempty"`

	SQLState     string `json:"pg_code,omitempty"`
	PGConstraint string `json:"pg_constraint,omitempty"`
	PGTable      string `json:"pg_table,omitempty"`
	PGColumn     string `json:"pg_column,omitempty"`
	PGDetail     string `json:"pg_detail,omitempty"`
	PGMessage    string `json:"pg_message,omitempty"`
}

func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{TopMessage: err.Error()}
	if te := As(err); te != nil {
		d.Code = te.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}
	if pg, ok := postgresDiagnostics(err); ok {
		d.SQLState = pg.code
		d.PGConstraint = pg.constraint
		d.PGTable = pg.table
		d.PGColumn = pg.column
		d.PGDetail = pg.detail
		d.PGMessage = pg.message
	}
	return d
}

// Fields flattens the dump into log fields, skipping empty diagnostics.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{"error": d.TopMessage}
	add := func(k, v string) {
		if v != "" {
			fields[k] = v
		}
	}
	add("error_code", string(d.Code))
	add("pg_code", d.SQLState)
	add("pg_constraint", d.PGConstraint)
	add("pg_table", d.PGTable)
	add("pg_column", d.PGColumn)
	add("pg_detail", d.PGDetail)
	add("pg_message", d.PGMessage)
	if len(d.Chain) > 1 {
		fields["error_chain"] = d.Chain
	}
	return fields
}

// IsTransientSQL reports whether err carries a Postgres SQLSTATE that a retry
// can clear: serialization failures, deadlocks, connection loss and
// administrator shutdown.
func IsTransientSQL(err error) bool {
	pg, ok := postgresDiagnostics(err)
	if !ok {
		return false
	}
	switch {
	case pg.code == "40001", pg.code == "40P01":
		return true
	case strings.HasPrefix(pg.code, "08"):
		return true
	case pg.code == "57P01", pg.code == "57P03":
		return true
	}
	return false
}

type pgDiagnostics struct {
	code, constraint, table, column, detail, message string
}

// postgresDiagnostics reads pgx and lib/pq error types alike.
func postgresDiagnostics(err error) (pgDiagnostics, bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgDiagnostics{
			code:       pgxErr.Code,
			constraint: pgxErr.ConstraintName,
			table:      pgxErr.TableName,
			column:     pgxErr.ColumnName,
			detail:     pgxErr.Detail,
			message:    pgxErr.Message,
		}, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgDiagnostics{
			code:       string(pqErr.Code),
			constraint: pqErr.Constraint,
			table:      pqErr.Table,
			column:     pqErr.Column,
			detail:     pqErr.Detail,
			message:    pqErr.Message,
		}, true
	}
	return pgDiagnostics{}, false
}
