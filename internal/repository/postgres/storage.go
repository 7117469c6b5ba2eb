package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/chatauth/internal/repository"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Storage struct {
	db      DBTX
	refresh repository.RefreshTokenRepo
}

type StorageOption func(*Storage)

// Keep token families in another store (e.g. redis) while users stay in postgres
func WithRefreshRepo(repo repository.RefreshTokenRepo) StorageOption {
	return func(s *Storage) {
		s.refresh = repo
	}
}

func NewStorage(db DBTX, opts ...StorageOption) repository.Storage {
	s := &Storage{db: db}
	for _, opt := range opts {
		opt(s)
	}
	if s.refresh == nil {
		s.refresh = &RefreshTokenRepo{DB: db}
	}
	return s
}

func (s *Storage) User() repository.UserRepo {
	return &UserRepo{DB: s.db}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return s.refresh
}

// Run fn in transaction: commit if fn succeeded, rollback otherwise
// Inside another transaction pgx turns Begin into a savepoint
func inTx(ctx context.Context, db DBTX, fn func(tx pgx.Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		switch err {
		case nil:
			err = tx.Commit(ctx)
		default:
			_ = tx.Rollback(ctx)
		}
	}()

	return fn(tx)
}
