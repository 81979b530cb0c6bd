package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the tables used by PostgresRepository.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS moderation_cases (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	priority TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL DEFAULT '{}',
	resolution JSONB,
	version BIGINT NOT NULL,
	updated_by TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_moderation_cases_kind_created ON moderation_cases(kind, created_at);

CREATE TABLE IF NOT EXISTS moderation_case_transitions (
	seq BIGSERIAL PRIMARY KEY,
	id UUID UNIQUE NOT NULL,
	case_id TEXT NOT NULL REFERENCES moderation_cases(id),
	kind TEXT NOT NULL,
	action TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	actor_id TEXT NOT NULL,
	actor_role TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	assignee TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL DEFAULT '{}',
	version BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	prev_hash TEXT NOT NULL,
	hash TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_moderation_case_transitions_case ON moderation_case_transitions(case_id, seq);
`

// PostgresRepository stores cases in PostgreSQL.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.Pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const pgCaseColumns = `id, kind, status, created_at, updated_at, assigned_to, priority, payload, resolution, version, updated_by`

func (r *PostgresRepository) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanPgRecord(r.Pool.QueryRow(ctx, `SELECT `+pgCaseColumns+` FROM moderation_cases WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get case %s: %w", id, err)
	}
	return rec, nil
}

func (r *PostgresRepository) Save(ctx context.Context, rec Record, entry TransitionEntry) (Record, error) {
	payload, resolution, err := encodeRecordJSON(rec)
	if err != nil {
		return Record{}, err
	}
	var resolutionArg any
	if resolution.Valid {
		resolutionArg = resolution.String
	}

	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var stored Record
	found := true
	err = tx.QueryRow(ctx, `SELECT version FROM moderation_cases WHERE id = $1 FOR UPDATE`, rec.ID).Scan(&stored.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		found = false
	} else if err != nil {
		return Record{}, fmt.Errorf("read version: %w", err)
	}
	if err := checkVersion(stored, found, rec); err != nil {
		return Record{}, err
	}

	if !found {
		// FOR UPDATE locks nothing for a missing row, so a concurrent open of
		// the same id lands here too; only one insert may take effect.
		tag, err := tx.Exec(ctx, `
			INSERT INTO moderation_cases (`+pgCaseColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::jsonb, $10, $11)
			ON CONFLICT (id) DO NOTHING`,
			rec.ID, string(rec.Kind), string(rec.Status), rec.CreatedAt, rec.UpdatedAt,
			rec.AssignedTo, string(rec.Priority), payload, resolutionArg, rec.Version, rec.UpdatedBy)
		if err != nil {
			return Record{}, fmt.Errorf("insert case: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return Record{}, ErrConcurrentModification
		}
	} else {
		tag, err := tx.Exec(ctx, `
			UPDATE moderation_cases
			SET status = $1, updated_at = $2, assigned_to = $3, priority = $4, payload = $5::jsonb,
			    resolution = $6::jsonb, version = $7, updated_by = $8
			WHERE id = $9 AND version = $10`,
			string(rec.Status), rec.UpdatedAt, rec.AssignedTo, string(rec.Priority), payload,
			resolutionArg, rec.Version, rec.UpdatedBy, rec.ID, rec.Version-1)
		if err != nil {
			return Record{}, fmt.Errorf("update case: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return Record{}, ErrConcurrentModification
		}
	}

	var prev string
	err = tx.QueryRow(ctx, `SELECT hash FROM moderation_case_transitions WHERE case_id = $1 ORDER BY seq DESC LIMIT 1`, rec.ID).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
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
	_, err = tx.Exec(ctx, `
		INSERT INTO moderation_case_transitions
			(id, case_id, kind, action, from_status, to_status, actor_id, actor_role, reason, assignee, payload, version, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb, $12, $13, $14, $15)`,
		sealed.ID, sealed.CaseID, string(sealed.Kind), string(sealed.Action), string(sealed.FromStatus), string(sealed.ToStatus),
		sealed.ActorID, string(sealed.ActorRole), sealed.Reason, sealed.Assignee, entryPayload, sealed.Version,
		sealed.CreatedAt, sealed.PrevHash, sealed.Hash)
	if err != nil {
		return Record{}, fmt.Errorf("insert transition: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("commit: %w", err)
	}
	return copyRecord(rec), nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, s := range filter.Statuses {
		statuses = append(statuses, string(s))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.Pool.Query(ctx, `
		SELECT `+pgCaseColumns+`
		FROM moderation_cases
		WHERE ($1 = '' OR kind = $1)
		  AND ($2 = '' OR assigned_to = $2)
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY created_at, id
		LIMIT NULLIF($4::int, -1)`,
		string(filter.Kind), filter.AssignedTo, statuses, limit)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanPgRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) History(ctx context.Context, caseID string) ([]TransitionEntry, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id::text, case_id, kind, action, from_status, to_status, actor_id, actor_role, reason, assignee, payload, version, created_at, prev_hash, hash
		FROM moderation_case_transitions
		WHERE case_id = $1
		ORDER BY seq`, caseID)
	if err != nil {
		return nil, fmt.Errorf("history %s: %w", caseID, err)
	}
	defer rows.Close()

	out := []TransitionEntry{}
	for rows.Next() {
		var (
			e       TransitionEntry
			kind    string
			action  string
			from    string
			to      string
			role    string
			payload []byte
		)
		if err := rows.Scan(&e.ID, &e.CaseID, &kind, &action, &from, &to, &e.ActorID, &role,
			&e.Reason, &e.Assignee, &payload, &e.Version, &e.CreatedAt, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.Kind, e.Action, e.FromStatus, e.ToStatus, e.ActorRole = Kind(kind), Action(action), Status(from), Status(to), Role(role)
		if e.Payload, err = unmarshalPayload(string(payload)); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanPgRecord(row pgx.Row) (Record, error) {
	var (
		rec                    Record
		kind, status, priority string
		payload, resolution    []byte
	)
	if err := row.Scan(&rec.ID, &kind, &status, &rec.CreatedAt, &rec.UpdatedAt, &rec.AssignedTo,
		&priority, &payload, &resolution, &rec.Version, &rec.UpdatedBy); err != nil {
		return Record{}, err
	}
	rec.Kind, rec.Status, rec.Priority = Kind(kind), Status(status), Priority(priority)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()

	var err error
	if rec.Payload, err = unmarshalPayload(string(payload)); err != nil {
		return Record{}, err
	}
	if len(resolution) > 0 {
		rec.Resolution = &Resolution{}
		if err := json.Unmarshal(resolution, rec.Resolution); err != nil {
			return Record{}, fmt.Errorf("decode resolution: %w", err)
		}
	}
	return rec, nil
}
