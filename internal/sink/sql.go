package sink

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrDuplicateRecord is returned when a record with the same run id and
// index already exists.
var ErrDuplicateRecord = errors.New("record already stored")

const uniqueViolation = "23505"

// SQL inserts records into a Postgres table with columns run_id, idx, input,
// output and elapsed_ms.
type SQL struct {
	db     *sqlx.DB
	table  string
	insert string
	owned  bool
}

// OpenSQL connects to dsn with the lib/pq driver and creates table when it
// does not exist.
func OpenSQL(ctx context.Context, dsn, table string) (*SQL, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to result database: %w", err)
	}

	s := NewSQL(db, table)
	s.owned = true

	if err := s.CreateTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQL writes to table through an existing connection. The caller keeps
// ownership of db.
func NewSQL(db *sqlx.DB, table string) *SQL {
	return &SQL{
		db:     db,
		table:  table,
		insert: InsertQuery(table, recordColumns(Record{})),
	}
}

// CreateTable creates the result table if it is missing.
func (s *SQL) CreateTable(ctx context.Context) error {
	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		run_id     TEXT    NOT NULL,
		idx        INTEGER NOT NULL,
		input      TEXT    NOT NULL,
		output     TEXT    NOT NULL,
		elapsed_ms BIGINT  NOT NULL,
		PRIMARY KEY (run_id, idx)
	)`, pq.QuoteIdentifier(s.table))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *SQL) Write(ctx context.Context, rec Record) error {
	_, err := s.db.NamedExecContext(ctx, s.insert, recordColumns(rec))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: run %s index %d", ErrDuplicateRecord, rec.RunID, rec.Index)
		}
		return fmt.Errorf("insert record %d: %w", rec.Index, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// Close releases the connection if OpenSQL created it.
func (s *SQL) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// ColumnSpec renders the column list and named placeholders of an INSERT for
// keys, in sorted order:
//
//	ColumnSpec([]string{"b", "a"}) == "( a,b ) VALUES ( :a,:b )"
func ColumnSpec(keys []string) string {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)

	placeholders := make([]string, len(sorted))
	for i, k := range sorted {
		placeholders[i] = ":" + k
	}
	return fmt.Sprintf("( %s ) VALUES ( %s )", strings.Join(sorted, ","), strings.Join(placeholders, ","))
}

// InsertQuery builds a named INSERT into table for the keys of row.
func InsertQuery(table string, row map[string]any) string {
	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	return fmt.Sprintf("INSERT INTO %s %s", pq.QuoteIdentifier(table), ColumnSpec(keys))
}

func recordColumns(rec Record) map[string]any {
	return map[string]any{
		"run_id":     rec.RunID,
		"idx":        rec.Index,
		"input":      rec.Input,
		"output":     rec.Output,
		"elapsed_ms": rec.Elapsed.Milliseconds(),
	}
}
