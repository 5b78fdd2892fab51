package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/speechsim/speechsim/engine/domain"
)

// Postgres implements SessionStore on a pooled *sql.DB.
type Postgres struct {
	db *sql.DB
}

// Open connects to Postgres with the given DSN and verifies connectivity.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing pool. The caller keeps ownership of db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Ping verifies store connectivity, used by the health endpoint.
func (p *Postgres) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

const sessionColumns = "id, speech, questions, created_by, generated_by, created_at, audio"

func (p *Postgres) Get(ctx context.Context, id int64) (*domain.SessionRecord, error) {
	row := p.db.QueryRowContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions WHERE id = $1", id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get session %d: %w", id, err)
	}
	return rec, nil
}

func (p *Postgres) UpdateAudio(ctx context.Context, id int64, audioB64 string) error {
	res, err := p.db.ExecContext(ctx,
		"UPDATE sessions SET audio = $1 WHERE id = $2", audioB64, id)
	if err != nil {
		return fmt.Errorf("store: update audio for session %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update audio for session %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, rec *domain.SessionRecord) (*domain.SessionRecord, error) {
	var questions any
	if rec.Questions != nil {
		b, err := json.Marshal(rec.Questions)
		if err != nil {
			return nil, fmt.Errorf("store: marshal questions: %w", err)
		}
		questions = b
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	out := *rec
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO sessions (speech, questions, created_by, generated_by, created_at, audio)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		nullIfEmpty(rec.Speech), questions, nullIfEmpty(rec.CreatedBy),
		nullIfEmpty(rec.GeneratedBy), createdAt, rec.Audio,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: create session: %w", err)
	}
	return &out, nil
}

func (p *Postgres) Delete(ctx context.Context, id int64) error {
	res, err := p.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("store: delete session %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: delete session %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) List(ctx context.Context, limit, offset int) ([]domain.SessionRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT "+sessionColumns+" FROM sessions ORDER BY id DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list sessions: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return out, nil
}

func (p *Postgres) Exists(ctx context.Context, id int64) (bool, error) {
	var found bool
	err := p.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM sessions WHERE id = $1)", id).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("store: session %d exists: %w", id, err)
	}
	return found, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (*domain.SessionRecord, error) {
	var (
		rec       domain.SessionRecord
		speech    sql.NullString
		questions []byte
		createdBy sql.NullString
		genBy     sql.NullString
		audio     sql.NullString
	)
	if err := s.Scan(&rec.ID, &speech, &questions, &createdBy, &genBy, &rec.CreatedAt, &audio); err != nil {
		return nil, err
	}
	rec.Speech = speech.String
	rec.CreatedBy = createdBy.String
	rec.GeneratedBy = genBy.String
	rec.Audio = audio.String
	rec.CreatedAt = rec.CreatedAt.UTC()
	if len(questions) > 0 {
		if err := json.Unmarshal(questions, &rec.Questions); err != nil {
			return nil, fmt.Errorf("decode questions: %w", err)
		}
	}
	return &rec, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
