package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultTable is the table SQL stores write to when none is configured.
const DefaultTable = "envelopes"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// sqlDialect captures what differs between the SQL backends.
type sqlDialect struct {
	name   string
	schema string // format string; every %[1]s is the table name
	bind   func(n int) string
}

// sqlStore is the database/sql implementation shared by the SQLite and
// PostgreSQL stores. It owns db.
type sqlStore struct {
	db      *sql.DB
	table   string
	dialect sqlDialect
}

func newSQLStore(ctx context.Context, db *sql.DB, table string, d sqlDialect) (*sqlStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("%s store: invalid table name %q", d.name, table)
	}

	s := &sqlStore{db: db, table: table, dialect: d}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("%s store: init schema: %w", d.name, err)
	}
	return s, nil
}

func (s *sqlStore) initSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(fmt.Sprintf(s.dialect.schema, s.table), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Append(ctx context.Context, rec Record) error {
	payload, err := EncodeEnvelope(rec.Envelope)
	if err != nil {
		return err
	}

	b := s.dialect.bind
	query := fmt.Sprintf(`
		INSERT INTO %s (id, stage, command, ts, payload)
		VALUES (%s, %s, %s, %s, %s)`,
		s.table, b(1), b(2), b(3), b(4), b(5),
	)
	_, err = s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Stage,
		rec.Command,
		rec.Timestamp.UnixNano(),
		payload,
	)
	return err
}

func (s *sqlStore) List(ctx context.Context, filter Filter) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		clauses = append(clauses, clause+" "+s.dialect.bind(len(args)))
	}

	if filter.Stage != "" {
		add("stage =", filter.Stage)
	}
	if filter.Command != "" {
		add("command =", filter.Command)
	}
	if !filter.Since.IsZero() {
		add("ts >=", filter.Since.UnixNano())
	}

	query := "SELECT id, stage, command, ts, payload FROM " + s.table
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY seq"
	if filter.Limit > 0 {
		query += " LIMIT " + strconv.Itoa(filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec     Record
			ts      int64
			payload []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Stage, &rec.Command, &ts, &payload); err != nil {
			return nil, err
		}
		rec.Timestamp = time.Unix(0, ts).UTC()
		if rec.Envelope, err = DecodeEnvelope(payload); err != nil {
			return nil, fmt.Errorf("record %s: %w", rec.ID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}
