package postgres

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chatauth/internal/apperrors"
	"github.com/nkiryanov/chatauth/internal/models"
	"github.com/nkiryanov/chatauth/internal/repository"
	"github.com/nkiryanov/chatauth/internal/testutil"
)

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	createUser := func(t *testing.T, db DBTX) models.User {
		users := UserRepo{DB: db}
		user, err := users.CreateUser(t.Context(), repository.CreateUserParams{
			Name:           "Family Owner",
			Email:          uuid.NewString() + "@example.com",
			HashedPassword: "hash",
			Roles:          []models.Role{models.RoleUser},
		})
		require.NoError(t, err)
		return user
	}

	newToken := func(userID uuid.UUID, hash string, ttl time.Duration) models.RefreshToken {
		now := time.Now().Truncate(time.Microsecond)
		return models.RefreshToken{
			ID:        uuid.New(),
			UserID:    userID,
			TokenHash: hash,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}
	}

	t.Run("save and contains", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createUser(t, tx)

			err := repo.Save(t.Context(), newToken(user.ID, "hash-1", time.Hour))
			require.NoError(t, err)

			ok, err := repo.Contains(t.Context(), user.ID, "hash-1")
			require.NoError(t, err)
			require.True(t, ok, "saved token must be a member")

			ok, err = repo.Contains(t.Context(), uuid.New(), "hash-1")
			require.NoError(t, err)
			require.False(t, ok, "token is a member of its owner family only")
		})
	})

	t.Run("expired token is not a member", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createUser(t, tx)
			require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "expired", -time.Minute)))

			ok, err := repo.Contains(t.Context(), user.ID, "expired")

			require.NoError(t, err)
			require.False(t, ok)
		})
	})

	t.Run("save prunes expired members", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createUser(t, tx)
			require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "expired", -time.Minute)))

			require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "fresh", time.Hour)))

			var count int
			err := tx.QueryRow(t.Context(), "SELECT count(*) FROM refresh_tokens WHERE user_id = $1", user.ID).Scan(&count)
			require.NoError(t, err)
			require.Equal(t, 1, count, "expired row should be pruned on append")
		})
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createUser(t, tx)
			require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "hash-1", time.Hour)))

			removed, err := repo.Delete(t.Context(), user.ID, "hash-1")
			require.NoError(t, err)
			require.True(t, removed)

			removed, err = repo.Delete(t.Context(), user.ID, "hash-1")
			require.NoError(t, err, "absence is not an error")
			require.False(t, removed)
		})
	})

	t.Run("delete all", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createUser(t, tx)
			other := createUser(t, tx)
			require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "hash-1", time.Hour)))
			require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "hash-2", time.Hour)))
			require.NoError(t, repo.Save(t.Context(), newToken(other.ID, "hash-3", time.Hour)))

			n, err := repo.DeleteAll(t.Context(), user.ID)

			require.NoError(t, err)
			require.EqualValues(t, 2, n)
			tokens, err := repo.ListByUser(t.Context(), user.ID)
			require.NoError(t, err)
			require.Empty(t, tokens)
			ok, err := repo.Contains(t.Context(), other.ID, "hash-3")
			require.NoError(t, err)
			require.True(t, ok, "other families must stay untouched")
		})
	})

	t.Run("rotate", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createUser(t, tx)
			require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "old", time.Hour)))
			require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "other-device", time.Hour)))

			err := repo.Rotate(t.Context(), user.ID, "old", newToken(user.ID, "new", time.Hour))
			require.NoError(t, err)

			tokens, err := repo.ListByUser(t.Context(), user.ID)
			require.NoError(t, err)
			var hashes []string
			for _, tok := range tokens {
				hashes = append(hashes, tok.TokenHash)
			}
			assert.ElementsMatch(t, []string{"other-device", "new"}, hashes)
		})
	})

	t.Run("rotate not member appends nothing", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createUser(t, tx)

			err := repo.Rotate(t.Context(), user.ID, "never-issued", newToken(user.ID, "new", time.Hour))

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			ok, err := repo.Contains(t.Context(), user.ID, "new")
			require.NoError(t, err)
			require.False(t, ok, "new token must not be appended when old one is not a member")
		})
	})

	t.Run("rotate expired member fails", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			user := createUser(t, tx)
			require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "old", -time.Second)))

			err := repo.Rotate(t.Context(), user.ID, "old", newToken(user.ID, "new", time.Hour))

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	// Real concurrency needs real connections, so these use the pool and clean up after themselves
	t.Run("delete expired across families", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			alice := createUser(t, tx)
			bob := createUser(t, tx)
			require.NoError(t, repo.Save(t.Context(), newToken(alice.ID, "alice-expired", -time.Minute)))
			require.NoError(t, repo.Save(t.Context(), newToken(bob.ID, "bob-live", time.Hour)))
			require.NoError(t, repo.Save(t.Context(), newToken(bob.ID, "bob-expired", -time.Minute)))

			n, err := repo.DeleteExpired(t.Context(), time.Now(), 1)
			require.NoError(t, err)
			require.Equal(t, int64(1), n, "limit must be respected")

			_, err = repo.DeleteExpired(t.Context(), time.Now(), 100)
			require.NoError(t, err)

			var count int
			err = tx.QueryRow(t.Context(), "SELECT count(*) FROM refresh_tokens WHERE user_id = ANY($1)", []uuid.UUID{alice.ID, bob.ID}).Scan(&count)
			require.NoError(t, err)
			require.Equal(t, 1, count, "only the live token must stay")

			ok, err := repo.Contains(t.Context(), bob.ID, "bob-live")
			require.NoError(t, err)
			require.True(t, ok)
		})
	})

	t.Run("concurrent rotations of one token", func(t *testing.T) {
		repo := RefreshTokenRepo{DB: pg.Pool}
		user := createUser(t, pg.Pool)
		t.Cleanup(func() { testutil.DeleteUser(pg.Pool, t, user.ID) })
		require.NoError(t, repo.Save(t.Context(), newToken(user.ID, "contested", time.Hour)))

		const workers = 8
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = repo.Rotate(t.Context(), user.ID, "contested", newToken(user.ID, uuid.NewString(), time.Hour))
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			default:
				require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			}
		}
		require.Equal(t, 1, succeeded, "exactly one rotation may consume the token")

		tokens, err := repo.ListByUser(t.Context(), user.ID)
		require.NoError(t, err)
		require.Len(t, tokens, 1, "family holds only the winner's token")
	})

	t.Run("concurrent appends keep every token", func(t *testing.T) {
		repo := RefreshTokenRepo{DB: pg.Pool}
		user := createUser(t, pg.Pool)
		t.Cleanup(func() { testutil.DeleteUser(pg.Pool, t, user.ID) })

		const workers = 8
		var wg sync.WaitGroup
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, repo.Save(t.Context(), newToken(user.ID, uuid.NewString(), time.Hour)))
			}()
		}
		wg.Wait()

		tokens, err := repo.ListByUser(t.Context(), user.ID)
		require.NoError(t, err)
		require.Len(t, tokens, workers, "no appended token may be lost")
	})
}
