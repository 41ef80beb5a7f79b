package poll

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// The poll record is document-shaped (options and submissions are owned
// exclusively by one poll and always read/written together), so it is stored
// as a single row with JSONB columns instead of normalized tables.
const schema = `
CREATE TABLE IF NOT EXISTS polls (
	id UUID PRIMARY KEY,
	room TEXT NOT NULL DEFAULT 'lobby',
	question TEXT NOT NULL,
	options JSONB NOT NULL,
	correct_option_index INT,
	created_by TEXT NOT NULL DEFAULT '',
	duration_seconds INT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	submissions JSONB NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS polls_active_idx ON polls (created_at DESC) WHERE is_active;
`

// PostgresStore persists polls in Postgres via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store on an existing pool and ensures the
// schema exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to ensure polls schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Create(ctx context.Context, p *Poll) error {
	options, submissions, err := marshalDoc(p)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO polls (id, room, question, options, correct_option_index, created_by,
			duration_seconds, is_active, created_at, started_at, submissions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.Room, p.Question, options, p.CorrectOptionIndex, p.CreatedBy,
		p.Duration, p.Active, p.CreatedAt, p.StartedAt, submissions)
	if err != nil {
		return fmt.Errorf("failed to create poll: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Poll, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id)
	return scanPoll(row)
}

func (s *PostgresStore) FindActive(ctx context.Context) (*Poll, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` WHERE is_active ORDER BY created_at DESC LIMIT 1`)
	return scanPoll(row)
}

func (s *PostgresStore) Save(ctx context.Context, p *Poll) error {
	options, submissions, err := marshalDoc(p)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE polls SET room = $2, question = $3, options = $4, correct_option_index = $5,
			created_by = $6, duration_seconds = $7, is_active = $8, created_at = $9,
			started_at = $10, submissions = $11
		WHERE id = $1`,
		p.ID, p.Room, p.Question, options, p.CorrectOptionIndex, p.CreatedBy,
		p.Duration, p.Active, p.CreatedAt, p.StartedAt, submissions)
	if err != nil {
		return fmt.Errorf("failed to save poll: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]*Poll, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list polls: %w", err)
	}
	defer rows.Close()

	var polls []*Poll
	for rows.Next() {
		p, err := scanPoll(rows)
		if err != nil {
			return nil, err
		}
		polls = append(polls, p)
	}
	return polls, rows.Err()
}

const selectColumns = `
	SELECT id, room, question, options, correct_option_index, created_by,
		duration_seconds, is_active, created_at, started_at, submissions
	FROM polls`

func scanPoll(row pgx.Row) (*Poll, error) {
	var (
		p           Poll
		options     []byte
		submissions []byte
	)
	err := row.Scan(&p.ID, &p.Room, &p.Question, &options, &p.CorrectOptionIndex,
		&p.CreatedBy, &p.Duration, &p.Active, &p.CreatedAt, &p.StartedAt, &submissions)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan poll: %w", err)
	}
	if err := json.Unmarshal(options, &p.Options); err != nil {
		return nil, fmt.Errorf("failed to decode poll options: %w", err)
	}
	if err := json.Unmarshal(submissions, &p.Submissions); err != nil {
		return nil, fmt.Errorf("failed to decode poll submissions: %w", err)
	}
	return &p, nil
}

func marshalDoc(p *Poll) (options, submissions []byte, err error) {
	options, err = json.Marshal(p.Options)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode poll options: %w", err)
	}
	subs := p.Submissions
	if subs == nil {
		subs = []Submission{}
	}
	submissions, err = json.Marshal(subs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode poll submissions: %w", err)
	}
	return options, submissions, nil
}
