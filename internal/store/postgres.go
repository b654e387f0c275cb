package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

// Schema is the SQL DDL for the projects table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS projects (
    id             TEXT PRIMARY KEY,
    name           TEXT NOT NULL,
    media_source   TEXT NOT NULL DEFAULT '',
    transcription  JSONB NOT NULL,
    classification JSONB NOT NULL DEFAULT '[]',
    active_takes   JSONB NOT NULL DEFAULT '{}',
    version        BIGINT NOT NULL DEFAULT 0,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_projects_updated ON projects(updated_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL. The transcript and take
// data are stored as JSONB.
type PostgresStore struct {
	db DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a [PostgresStore] on db. Call
// [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects a pool to dsn, pings it and applies [Schema]. The caller
// closes the returned pool.
func Open(ctx context.Context, dsn string) (*PostgresStore, *pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// Migrate executes the [Schema] DDL.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping checks that the database answers. It is used as a readiness check.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	if err := s.db.QueryRow(ctx, `SELECT 1`).Scan(&one); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Create implements [Store].
func (s *PostgresStore) Create(ctx context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	cols, err := encode(p)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO projects (id, name, media_source, transcription, classification, active_takes, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.MediaSource, cols.transcription, cols.classification, cols.activeTakes, int64(p.Version),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: %q", ErrExists, p.ID)
		}
		return fmt.Errorf("store: create: %w", err)
	}
	return nil
}

// Get implements [Store].
func (s *PostgresStore) Get(ctx context.Context, id string) (*Project, error) {
	const query = `
		SELECT id, name, media_source, transcription, classification, active_takes,
		       version, created_at, updated_at
		FROM projects
		WHERE id = $1`

	var (
		p                         Project
		trJSON, clJSON, activeRaw []byte
		version                   int64
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Name, &p.MediaSource, &trJSON, &clJSON, &activeRaw,
		&version, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("store: get %q: %w", id, err)
	}
	p.Version = uint64(version)
	if err := decode(&p, trJSON, clJSON, activeRaw); err != nil {
		return nil, err
	}
	return &p, nil
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	cols, err := encode(p)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO projects (id, name, media_source, transcription, classification, active_takes, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			media_source = EXCLUDED.media_source,
			transcription = EXCLUDED.transcription,
			classification = EXCLUDED.classification,
			active_takes = EXCLUDED.active_takes,
			version = EXCLUDED.version,
			updated_at = now()
		RETURNING created_at, updated_at`

	err = s.db.QueryRow(ctx, query,
		p.ID, p.Name, p.MediaSource, cols.transcription, cols.classification, cols.activeTakes, int64(p.Version),
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("store: save: %w", err)
	}
	return nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("store: delete %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// List implements [Store].
func (s *PostgresStore) List(ctx context.Context) ([]Summary, error) {
	const query = `
		SELECT id, name, jsonb_array_length(transcription->'words'), version, updated_at
		FROM projects
		ORDER BY updated_at DESC, id`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			version int64
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.WordCount, &version, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("store: list scan: %w", err)
		}
		sum.Version = uint64(version)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list: %w", err)
	}
	return out, nil
}

type columns struct {
	transcription, classification, activeTakes []byte
}

func encode(p *Project) (columns, error) {
	var (
		c   columns
		err error
	)
	if c.transcription, err = json.Marshal(p.Transcription.StripDerived()); err != nil {
		return c, fmt.Errorf("store: marshal transcription: %w", err)
	}
	classification := p.Classification
	if classification == nil {
		classification = []takes.Anchored{}
	}
	if c.classification, err = json.Marshal(classification); err != nil {
		return c, fmt.Errorf("store: marshal classification: %w", err)
	}
	active := p.ActiveTakes
	if active == nil {
		active = map[int]int{}
	}
	if c.activeTakes, err = json.Marshal(active); err != nil {
		return c, fmt.Errorf("store: marshal active_takes: %w", err)
	}
	return c, nil
}

func decode(p *Project, tr, cl, active []byte) error {
	var t transcript.Transcription
	if err := json.Unmarshal(tr, &t); err != nil {
		return fmt.Errorf("store: unmarshal transcription: %w", err)
	}
	p.Transcription = t.StripDerived()
	if err := json.Unmarshal(cl, &p.Classification); err != nil {
		return fmt.Errorf("store: unmarshal classification: %w", err)
	}
	if err := json.Unmarshal(active, &p.ActiveTakes); err != nil {
		return fmt.Errorf("store: unmarshal active_takes: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks whether a PostgreSQL error is a unique-violation
// (SQLSTATE 23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
