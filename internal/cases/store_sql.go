package cases

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SQLiteSchema creates the tables used by SQLRepository.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS cases (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}',
	resolution TEXT,
	version INTEGER NOT NULL,
	updated_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_cases_kind_created ON cases(kind, created_at);

CREATE TABLE IF NOT EXISTS case_transitions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT UNIQUE NOT NULL,
	case_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	action TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	actor_role TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	assignee TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '{}',
	version INTEGER NOT NULL,
	created_at INTEGER NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_case_transitions_case ON case_transitions(case_id, seq);
`

// SQLRepository stores cases through database/sql. Queries use "?"
// placeholders and integer unix-nanosecond timestamps (SQLite).
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// Migrate creates the schema if it does not exist.
func (s *SQLRepository) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, SQLiteSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const sqlCaseColumns = `id, kind, status, created_at, updated_at, assigned_to, priority, payload, resolution, version, updated_by`

func (s *SQLRepository) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqlCaseColumns+` FROM cases WHERE id = ?`, id)
	rec, err := scanSQLRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get case %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLRepository) Save(ctx context.Context, rec Record, entry TransitionEntry) (Record, error) {
	payload, resolution, err := encodeRecordJSON(rec)
	if err != nil {
		return Record{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var stored Record
	found := true
	err = tx.QueryRowContext(ctx, `SELECT version FROM cases WHERE id = ?`, rec.ID).Scan(&stored.Version)
	if errors.Is(err, sql.ErrNoRows) {
		found = false
	} else if err != nil {
		return Record{}, fmt.Errorf("read version: %w", err)
	}
	if err := checkVersion(stored, found, rec); err != nil {
		return Record{}, err
	}

	if !found {
		_, err = tx.ExecContext(ctx, `INSERT INTO cases (`+sqlCaseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, string(rec.Kind), string(rec.Status), rec.CreatedAt.UnixNano(), rec.UpdatedAt.UnixNano(),
			rec.AssignedTo, string(rec.Priority), payload, resolution, rec.Version, rec.UpdatedBy)
		if err != nil {
			return Record{}, fmt.Errorf("insert case: %w", err)
		}
	} else {
		res, err := tx.ExecContext(ctx, `
			UPDATE cases
			SET status = ?, updated_at = ?, assigned_to = ?, priority = ?, payload = ?, resolution = ?, version = ?, updated_by = ?
			WHERE id = ? AND version = ?`,
			string(rec.Status), rec.UpdatedAt.UnixNano(), rec.AssignedTo, string(rec.Priority),
			payload, resolution, rec.Version, rec.UpdatedBy, rec.ID, rec.Version-1)
		if err != nil {
			return Record{}, fmt.Errorf("update case: %w", err)
		}
		if n, _ := res.RowsAffected(); n != 1 {
			return Record{}, ErrConcurrentModification
		}
	}

	var prev string
	err = tx.QueryRowContext(ctx, `SELECT hash FROM case_transitions WHERE case_id = ? ORDER BY seq DESC LIMIT 1`, rec.ID).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("read chain head: %w", err)
	}
	sealed, err := entry.Seal(prev)
	if err != nil {
		return Record{}, err
	}
	entryPayload, err := marshalPayload(sealed.Payload)
	if err != nil {
		return Record{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO case_transitions (id, case_id, kind, action, from_status, to_status, actor_id, actor_role, reason, assignee, payload, version, created_at, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sealed.ID, sealed.CaseID, string(sealed.Kind), string(sealed.Action), string(sealed.FromStatus), string(sealed.ToStatus),
		sealed.ActorID, string(sealed.ActorRole), sealed.Reason, sealed.Assignee, entryPayload, sealed.Version,
		sealed.CreatedAt.UnixNano(), sealed.PrevHash, sealed.Hash)
	if err != nil {
		return Record{}, fmt.Errorf("insert transition: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return copyRecord(rec), nil
}

func (s *SQLRepository) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.AssignedTo != "" {
		where = append(where, "assigned_to = ?")
		args = append(args, filter.AssignedTo)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + sqlCaseColumns + ` FROM cases`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanSQLRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLRepository) History(ctx context.Context, caseID string) ([]TransitionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, kind, action, from_status, to_status, actor_id, actor_role, reason, assignee, payload, version, created_at, prev_hash, hash
		FROM case_transitions
		WHERE case_id = ?
		ORDER BY seq`, caseID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", caseID, err)
	}
	defer rows.Close()

	out := []TransitionEntry{}
	for rows.Next() {
		var (
			e         TransitionEntry
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Kind, &e.Action, &e.FromStatus, &e.ToStatus, &e.ActorID, &e.ActorRole,
			&e.Reason, &e.Assignee, &payload, &e.Version, &createdAt, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if e.Payload, err = unmarshalPayload(payload); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLRecord(row rowScanner) (Record, error) {
	var (
		rec                  Record
		createdAt, updatedAt int64
		payload              string
		resolution           sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Kind, &rec.Status, &createdAt, &updatedAt, &rec.AssignedTo,
		&rec.Priority, &payload, &resolution, &rec.Version, &rec.UpdatedBy); err != nil {
		return Record{}, err
	}
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()

	var err error
	if rec.Payload, err = unmarshalPayload(payload); err != nil {
		return Record{}, err
	}
	if resolution.Valid && resolution.String != "" {
		rec.Resolution = &Resolution{}
		if err := json.Unmarshal([]byte(resolution.String), rec.Resolution); err != nil {
			return Record{}, fmt.Errorf("decode resolution: %w", err)
		}
	}
	return rec, nil
}

func encodeRecordJSON(rec Record) (payload string, resolution sql.NullString, err error) {
	payload, err = marshalPayload(rec.Payload)
	if err != nil {
		return "", sql.NullString{}, err
	}
	if rec.Resolution != nil {
		b, err := json.Marshal(rec.Resolution)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encode resolution: %w", err)
		}
		resolution = sql.NullString{String: string(b), Valid: true}
	}
	return payload, resolution, nil
}

func marshalPayload(p Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(b), nil
}

func unmarshalPayload(s string) (Payload, error) {
	if s == "" || s == "{}" || s == "null" {
		return nil, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}
