package tokenmanager

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/chatauth/internal/models"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

// Clock that moves only when told
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func Test_TokenManager(t *testing.T) {
	t.Parallel()

	testUser := models.User{
		ID:             uuid.New(),
		CreatedAt:      mustParseTime("2024-01-01 19:00:01Z"),
		Name:           "Test User",
		Email:          "user@example.com",
		HashedPassword: "hashed_password",
		Roles:          []models.Role{models.RoleAdmin, models.RoleUser},
	}

	newManager := func(t *testing.T, clock *testClock) *TokenManager {
		m, err := New(Config{
			SecretKey:        "test-secret-key",
			RefreshSecretKey: "test-refresh-secret-key",
			AccessTTL:        30 * time.Second,
			RefreshTTL:       24 * time.Hour,
			Now:              clock.Now,
		})
		require.NoError(t, err, "token manager should be created without errors")
		return m
	}

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err, "token manager should be created without errors")

		require.Equal(t, []byte("secret"), m.accessKey, "secret key should be set")
		require.Equal(t, []byte("secret"), m.refreshKey, "refresh key defaults to secret key")
		require.Equal(t, defaultAccessTokenTTL, m.accessTTL, "default access token TTL should be set")
		require.Equal(t, defaultRefreshTokenTTL, m.refreshTTL, "default refresh token TTL")
		require.Equal(t, defaultSigningMethod, m.alg.Alg(), "default signing method should be set")
	})

	t.Run("new fails fast", func(t *testing.T) {
		tests := []struct {
			name string
			cfg  Config
		}{
			{"empty secret", Config{}},
			{"not hmac alg", Config{SecretKey: "secret", Alg: "RS256"}},
			{"unknown alg", Config{SecretKey: "secret", Alg: "nope"}},
			{"negative ttl", Config{SecretKey: "secret", AccessTTL: -time.Second}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := New(tt.cfg)
				require.Error(t, err)
			})
		}
	})

	t.Run("GeneratePair", func(t *testing.T) {
		t.Run("return token pair", func(t *testing.T) {
			clock := &testClock{now: mustParseTime("2025-03-01 12:00:00Z")}
			m := newManager(t, clock)

			pair, err := m.GeneratePair(testUser)

			require.NoError(t, err)
			assert.NotEmpty(t, pair.Access.Value, "access token should not be empty")
			assert.Equal(t, clock.now.Add(30*time.Second), pair.Access.ExpiresAt)
			assert.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")
			assert.Equal(t, clock.now.Add(24*time.Hour), pair.Refresh.ExpiresAt)
		})

		t.Run("access claims", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})
			pair, err := m.GeneratePair(testUser)
			require.NoError(t, err)

			token, err := jwt.ParseWithClaims(pair.Access.Value, &AccessTokenClaims{}, func(token *jwt.Token) (any, error) {
				return []byte("test-secret-key"), nil
			})
			require.NoError(t, err)
			require.True(t, token.Valid, "access token should be valid")

			claims, ok := token.Claims.(*AccessTokenClaims)
			require.True(t, ok, "claims should be of type AccessTokenClaims")
			assert.Equal(t, testUser.ID, claims.UserID, "user ID in token should match")
			assert.Equal(t, testUser.Email, claims.Email)
			assert.Equal(t, models.NewRoleList(models.RoleAdmin, models.RoleUser), claims.Roles)
			assert.NotEmpty(t, claims.ID, "token has to has jti")
			assert.Equal(t, jwt.ClaimStrings{"access"}, claims.Audience)
			assert.WithinDuration(t, pair.Access.ExpiresAt, claims.ExpiresAt.Time, 0, "access expires at should match token pair")
		})

		t.Run("generate different tokens", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})

			pair1, err := m.GeneratePair(testUser)
			require.NoError(t, err)
			pair2, err := m.GeneratePair(testUser)
			require.NoError(t, err)

			assert.NotEqual(t, pair1.Refresh.Value, pair2.Refresh.Value, "refresh tokens should be different even issued same second")
			assert.NotEqual(t, pair1.Access.Value, pair2.Access.Value, "access tokens should be different")
		})
	})

	t.Run("ParseAccess", func(t *testing.T) {
		t.Run("round trip", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})
			access, err := m.IssueAccess(testUser)
			require.NoError(t, err)

			identity, err := m.ParseAccess(access.Value)

			require.NoError(t, err, "valid token should be parsed without errors")
			require.Equal(t, testUser.ID, identity.UserID)
			require.Equal(t, testUser.Email, identity.Email)
			require.True(t, identity.Roles.Valid)
			require.Equal(t, testUser.Roles, identity.Roles.Codes)
		})

		t.Run("valid before ttl, expired after", func(t *testing.T) {
			clock := &testClock{now: time.Now()}
			m := newManager(t, clock)
			access, err := m.IssueAccess(testUser)
			require.NoError(t, err)

			clock.Advance(29 * time.Second)
			_, err = m.ParseAccess(access.Value)
			require.NoError(t, err, "token is valid within its ttl")

			clock.Advance(2 * time.Second)
			_, err = m.ParseAccess(access.Value)
			require.Error(t, err)
			require.True(t, IsKind(err, Expired), "token has to become expired, got %v", err)
		})

		t.Run("not a token", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})

			_, err := m.ParseAccess("invalid token")

			require.True(t, IsKind(err, Malformed), "parsing not a token should be malformed, got %v", err)
		})

		t.Run("wrong key", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})
			other, err := New(Config{SecretKey: "other-key"})
			require.NoError(t, err)
			access, err := other.IssueAccess(testUser)
			require.NoError(t, err)

			_, err = m.ParseAccess(access.Value)

			require.True(t, IsKind(err, BadSignature), "got %v", err)
		})

		t.Run("tampered payload", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})
			access, err := m.IssueAccess(testUser)
			require.NoError(t, err)
			parts := strings.Split(access.Value, ".")
			parts[2] = strings.Repeat("A", len(parts[2]))

			_, err = m.ParseAccess(strings.Join(parts, "."))

			require.True(t, IsKind(err, BadSignature), "got %v", err)
		})

		t.Run("refresh token is not access token", func(t *testing.T) {
			m, err := New(Config{SecretKey: "same-secret"})
			require.NoError(t, err)
			refresh, err := m.IssueRefresh(testUser)
			require.NoError(t, err)

			_, err = m.ParseAccess(refresh.Value)

			require.Error(t, err, "audience must not match even with shared secret")
		})

		t.Run("not signed token", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})
			token := jwt.NewWithClaims(
				jwt.SigningMethodNone,
				AccessTokenClaims{
					RegisteredClaims: jwt.RegisteredClaims{
						ID:        uuid.NewString(),
						Audience:  jwt.ClaimStrings{"access"},
						IssuedAt:  jwt.NewNumericDate(time.Now()),
						ExpiresAt: jwt.NewNumericDate(time.Now().Add(15 * time.Minute)),
					},
					UserID: testUser.ID,
					Roles:  models.NewRoleList(models.RoleAdmin),
				},
			)
			access, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)

			_, err = m.ParseAccess(access)
			require.Error(t, err, "Valid token with empty alg must fail")
		})

		t.Run("role claim variants", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})

			sign := func(roles any) string {
				claims := jwt.MapClaims{
					"jti":   uuid.NewString(),
					"aud":   "access",
					"iat":   time.Now().Unix(),
					"exp":   time.Now().Add(time.Minute).Unix(),
					"uid":   testUser.ID.String(),
					"email": testUser.Email,
				}
				if roles != nil {
					claims["roles"] = roles
				}
				value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
				require.NoError(t, err)
				return value
			}

			tests := []struct {
				name  string
				roles any
				want  models.RoleList
			}{
				{"absent", nil, models.RoleList{}},
				{"not a list", "admin", models.RoleList{}},
				{"list of strings", []string{"admin"}, models.RoleList{}},
				{"with nulls", []any{5150, nil, 2010}, models.NewRoleList(models.RoleAdmin, models.RoleUser)},
				{"empty list", []int{}, models.NewRoleList()},
			}

			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					identity, err := m.ParseAccess(sign(tt.roles))

					require.NoError(t, err, "role claim shape never fails verification")
					require.Equal(t, tt.want, identity.Roles)
				})
			}
		})
	})

	t.Run("ParseRefresh", func(t *testing.T) {
		t.Run("round trip", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})
			refresh, err := m.IssueRefresh(testUser)
			require.NoError(t, err)

			claims, err := m.ParseRefresh(refresh.Value)

			require.NoError(t, err)
			require.Equal(t, testUser.ID, claims.UserID)
			require.Equal(t, testUser.Email, claims.Email)
		})

		t.Run("expired returns claims", func(t *testing.T) {
			clock := &testClock{now: time.Now()}
			m := newManager(t, clock)
			refresh, err := m.IssueRefresh(testUser)
			require.NoError(t, err)
			clock.Advance(25 * time.Hour)

			claims, err := m.ParseRefresh(refresh.Value)

			require.True(t, IsKind(err, Expired), "got %v", err)
			require.Equal(t, testUser.ID, claims.UserID, "claims of expired token still decoded")
		})

		t.Run("access token is not refresh token", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})
			access, err := m.IssueAccess(testUser)
			require.NoError(t, err)

			_, err = m.ParseRefresh(access.Value)

			require.Error(t, err)
		})

		t.Run("bad signature returns no claims", func(t *testing.T) {
			m := newManager(t, &testClock{now: time.Now()})
			other, err := New(Config{SecretKey: "other-key"})
			require.NoError(t, err)
			refresh, err := other.IssueRefresh(testUser)
			require.NoError(t, err)

			claims, err := m.ParseRefresh(refresh.Value)

			require.True(t, IsKind(err, BadSignature), "got %v", err)
			require.Equal(t, uuid.Nil, claims.UserID)
		})
	})

	t.Run("Fingerprint", func(t *testing.T) {
		a := Fingerprint("token-a")

		require.Len(t, a, 64)
		require.Equal(t, a, Fingerprint("token-a"), "fingerprint is deterministic")
		require.NotEqual(t, a, Fingerprint("token-b"))
	})
}
