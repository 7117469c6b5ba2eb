package tokenmanager

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/chatauth/internal/models"
)

const (
	defaultAccessTokenTTL  = 30 * time.Second
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 24 * time.Hour

	// Token kinds are told apart by audience, so one can't be used in place of the other
	audienceAccess  = "access"
	audienceRefresh = "refresh"
)

type VerifyErrorKind int

const (
	Malformed VerifyErrorKind = iota
	BadSignature
	Expired
)

func (k VerifyErrorKind) String() string {
	switch k {
	case Expired:
		return "expired"
	case BadSignature:
		return "bad signature"
	default:
		return "malformed"
	}
}

type VerifyError struct {
	Kind VerifyErrorKind
	Err  error
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("token %s: %v", e.Kind, e.Err)
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

// Report whether err is a VerifyError of given kind
func IsKind(err error, kind VerifyErrorKind) bool {
	var verr *VerifyError
	return errors.As(err, &verr) && verr.Kind == kind
}

type AccessTokenClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID       `json:"uid"`
	Email  string          `json:"email"`
	Roles  models.RoleList `json:"roles"`
}

type RefreshClaims struct {
	jwt.RegisteredClaims
	UserID uuid.UUID `json:"uid"`
	Email  string    `json:"email"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign access token
	// Required to be set
	SecretKey string

	// Secret key to sign refresh token
	// If not set than SecretKey is used
	RefreshSecretKey string

	// JWT MAC (Message Authentication Code) algorithm
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	// Clock, time.Now if not set
	Now func() time.Time
}

type TokenManager struct {
	accessKey  []byte
	refreshKey []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}
	if cfg.RefreshSecretKey == "" {
		cfg.RefreshSecretKey = cfg.SecretKey
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing method %q, only HMAC methods allowed", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.AccessTTL < 0 || cfg.RefreshTTL < 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TokenManager{
		accessKey:  []byte(cfg.SecretKey),
		refreshKey: []byte(cfg.RefreshSecretKey),
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        cfg.Now,
	}, nil
}

func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

func (m *TokenManager) registered(subject uuid.UUID, audience string, ttl time.Duration) (jwt.RegisteredClaims, time.Time) {
	now := m.now().Truncate(time.Second)
	expiresAt := now.Add(ttl)

	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject.String(),
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}, expiresAt
}

// Sign access token with user's current identity and roles
func (m *TokenManager) IssueAccess(user models.User) (models.IssuedToken, error) {
	registered, expiresAt := m.registered(user.ID, audienceAccess, m.accessTTL)
	claims := AccessTokenClaims{
		RegisteredClaims: registered,
		UserID:           user.ID,
		Email:            user.Email,
		Roles:            models.NewRoleList(user.Roles...),
	}

	value, err := jwt.NewWithClaims(m.alg, claims).SignedString(m.accessKey)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing access token. Err: %w", err)
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}

func (m *TokenManager) IssueRefresh(user models.User) (models.IssuedToken, error) {
	registered, expiresAt := m.registered(user.ID, audienceRefresh, m.refreshTTL)
	claims := RefreshClaims{
		RegisteredClaims: registered,
		UserID:           user.ID,
		Email:            user.Email,
	}

	value, err := jwt.NewWithClaims(m.alg, claims).SignedString(m.refreshKey)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing refresh token. Err: %w", err)
	}

	return models.IssuedToken{Value: value, ExpiresAt: expiresAt}, nil
}

func (m *TokenManager) GeneratePair(user models.User) (models.TokenPair, error) {
	access, err := m.IssueAccess(user)
	if err != nil {
		return models.TokenPair{}, err
	}

	refresh, err := m.IssueRefresh(user)
	if err != nil {
		return models.TokenPair{}, err
	}

	return models.TokenPair{Access: access, Refresh: refresh}, nil
}

func (m *TokenManager) parse(token string, claims jwt.Claims, key []byte, audience string) error {
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (any, error) {
			return key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return &VerifyError{Kind: Expired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return &VerifyError{Kind: BadSignature, Err: err}
	default:
		return &VerifyError{Kind: Malformed, Err: err}
	}
}

// Parse and validate access token
// Missing or malformed role claim does not fail verification: it comes back as invalid role list
func (m *TokenManager) ParseAccess(access string) (models.Identity, error) {
	claims := &AccessTokenClaims{}
	if err := m.parse(access, claims, m.accessKey, audienceAccess); err != nil {
		return models.Identity{}, err
	}

	if claims.UserID == uuid.Nil {
		return models.Identity{}, &VerifyError{Kind: Malformed, Err: errors.New("token has no subject")}
	}

	return models.Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Roles:  claims.Roles,
	}, nil
}

// Parse and validate refresh token
// Claims of an expired token are returned along with Expired error
func (m *TokenManager) ParseRefresh(refresh string) (RefreshClaims, error) {
	claims := &RefreshClaims{}
	err := m.parse(refresh, claims, m.refreshKey, audienceRefresh)

	switch {
	case err == nil && claims.UserID == uuid.Nil:
		return RefreshClaims{}, &VerifyError{Kind: Malformed, Err: errors.New("token has no subject")}
	case err == nil, IsKind(err, Expired):
		return *claims, err
	default:
		return RefreshClaims{}, err
	}
}

// Fingerprint is the form refresh token is kept in store
func Fingerprint(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
