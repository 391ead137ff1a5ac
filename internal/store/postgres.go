// File: internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/applypilot/applypilot-cli/api/schemas"
)

// DBPool abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres provides a PostgreSQL implementation of the SessionStore
// interface.
type Postgres struct {
	pool DBPool
	now  schemas.Clock
	log  *zap.Logger
}

var _ schemas.SessionStore = (*Postgres)(nil)

const schemaSQL = `
    CREATE TABLE IF NOT EXISTS challenge_sessions (
        domain         TEXT PRIMARY KEY,
        challenge_type TEXT NOT NULL,
        solved_at      TIMESTAMPTZ NOT NULL,
        expires_at     TIMESTAMPTZ NOT NULL
    );
`

// NewPostgres creates a store instance and verifies the connection.
func NewPostgres(ctx context.Context, pool DBPool, logger *zap.Logger) (*Postgres, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{
		pool: pool,
		now:  time.Now,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the challenge_sessions table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure challenge_sessions schema: %w", err)
	}
	return nil
}

// Get returns the unexpired session for a domain, or nil. Expired rows are
// deleted on read so the cache never serves a stale clearance.
func (p *Postgres) Get(ctx context.Context, domain string) (*schemas.ChallengeSession, error) {
	const query = `
        SELECT challenge_type, solved_at, expires_at
        FROM challenge_sessions
        WHERE domain = $1;
    `
	var (
		challengeType string
		solvedAt      time.Time
		expiresAt     time.Time
	)
	err := p.pool.QueryRow(ctx, query, domain).Scan(&challengeType, &solvedAt, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query challenge session: %w", err)
	}

	session := schemas.ChallengeSession{
		Domain:    domain,
		Type:      schemas.ChallengeType(challengeType),
		SolvedAt:  solvedAt,
		ExpiresAt: expiresAt,
	}
	if !session.Valid(p.now()) {
		if _, err := p.pool.Exec(ctx, `DELETE FROM challenge_sessions WHERE domain = $1;`, domain); err != nil {
			p.log.Warn("Failed to delete expired challenge session.",
				zap.String("domain", domain), zap.Error(err))
		}
		return nil, nil
	}
	return &session, nil
}

// Put stores or replaces the session for its domain.
func (p *Postgres) Put(ctx context.Context, session schemas.ChallengeSession) error {
	const upsert = `
        INSERT INTO challenge_sessions (domain, challenge_type, solved_at, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (domain) DO UPDATE SET
            challenge_type = EXCLUDED.challenge_type,
            solved_at = EXCLUDED.solved_at,
            expires_at = EXCLUDED.expires_at;
    `
	_, err := p.pool.Exec(ctx, upsert,
		session.Domain,
		string(session.Type),
		session.SolvedAt.UTC(),
		session.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert challenge session: %w", err)
	}
	return nil
}

// PruneExpired removes every expired row and reports how many were dropped.
func (p *Postgres) PruneExpired(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM challenge_sessions WHERE expires_at <= $1;`, p.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune challenge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
