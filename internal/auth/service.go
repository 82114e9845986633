package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.mongodb.org/mongo-driver/bson"
	"golang.org/x/crypto/bcrypt"

	"github.com/cvehub/cvehub/internal/apperr"
	"github.com/cvehub/cvehub/internal/clock"
	"github.com/cvehub/cvehub/internal/store"
	"github.com/cvehub/cvehub/pkg/config"
	"github.com/cvehub/cvehub/pkg/logger"
)

// claims is the JWT payload minted for an access token.
type claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service implements the authenticate/current_principal collaborator
// contract of §6: signup, password-grant login, refresh rotation,
// logout, and bearer-token verification, backed by bcrypt password
// hashes and self-issued JWTs persisted alongside refresh tokens.
type Service struct {
	store *store.Store
	clock clock.Clock
	cfg   config.AuthConfig
	log   *logger.Logger
}

// New builds a Service.
func New(s *store.Store, clk clock.Clock, cfg config.AuthConfig, log *logger.Logger) *Service {
	return &Service{store: s, clock: clk, cfg: cfg, log: log.WithComponent("auth")}
}

// Signup creates a new account and returns its token pair. Usernames are
// unique; a duplicate is a ConflictError per the CVE-uniqueness idiom
// extended to accounts.
func (s *Service) Signup(ctx context.Context, username, password string, role Role) (*TokenPair, *User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil, apperr.NewValidation("username is required", "username", "must not be empty")
	}
	if len(password) < 8 {
		return nil, nil, apperr.NewValidation("password too short", "password", "must be at least 8 characters")
	}

	coll := s.store.Collection(store.CollectionUsers)
	existing, err := store.FindOne[User](ctx, coll, bson.M{"username": username}, nil)
	if err != nil {
		return nil, nil, &apperr.StorageError{Op: "signup_lookup", Cause: err}
	}
	if existing != nil {
		return nil, nil, &apperr.ConflictError{Message: "username already exists"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, nil, &apperr.StorageError{Op: "hash_password", Cause: err}
	}

	if role == "" {
		role = RoleUser
	}
	user := User{
		Username:     username,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    s.clock.Now(),
	}
	if _, err := store.Insert(ctx, coll, user); err != nil {
		return nil, nil, &apperr.StorageError{Op: "signup_insert", Cause: err}
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return pair, &user, nil
}

// Authenticate implements the password grant: authenticate(username,
// password) → principal?, returning fresh access+refresh tokens on
// success.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*TokenPair, *User, error) {
	coll := s.store.Collection(store.CollectionUsers)
	user, err := store.FindOne[User](ctx, coll, bson.M{"username": username}, nil)
	if err != nil {
		return nil, nil, &apperr.StorageError{Op: "login_lookup", Cause: err}
	}
	if user == nil {
		return nil, nil, apperr.NewUnauthenticated("invalid username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil, apperr.NewUnauthenticated("invalid username or password")
	}

	pair, err := s.issueTokenPair(ctx, *user)
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Refresh rotates a refresh token: the presented token is revoked and a
// fresh pair is minted. A reused or expired token is an AuthError, and
// per testable property #9, no new tokens are minted in that case.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	coll := s.store.Collection(store.CollectionRefreshTokens)
	record, err := store.FindOne[RefreshToken](ctx, coll, bson.M{"token": refreshToken}, nil)
	if err != nil {
		return nil, &apperr.StorageError{Op: "refresh_lookup", Cause: err}
	}
	if record == nil || record.IsRevoked || s.clock.Now().After(record.ExpiresAt) {
		return nil, apperr.NewUnauthenticated("refresh token is invalid or expired")
	}

	if err := store.UpdateOne(ctx, coll, bson.M{"token": refreshToken}, store.OpSet, bson.M{"is_revoked": true}); err != nil {
		return nil, &apperr.StorageError{Op: "revoke_old_refresh", Cause: err}
	}

	usersColl := s.store.Collection(store.CollectionUsers)
	user, err := store.FindOne[User](ctx, usersColl, bson.M{"username": record.UserID}, nil)
	if err != nil {
		return nil, &apperr.StorageError{Op: "refresh_user_lookup", Cause: err}
	}
	if user == nil {
		return nil, apperr.NewUnauthenticated("account no longer exists")
	}

	return s.issueTokenPair(ctx, *user)
}

// Logout revokes the presented refresh token. Idempotent: revoking an
// already-revoked or unknown token is not an error.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	coll := s.store.Collection(store.CollectionRefreshTokens)
	if err := store.UpdateOne(ctx, coll, bson.M{"token": refreshToken}, store.OpSet, bson.M{"is_revoked": true}); err != nil {
		return &apperr.StorageError{Op: "logout_revoke", Cause: err}
	}
	return nil
}

// CurrentUser implements current_principal(token) → principal?: it
// verifies the access token's signature and expiry and returns the
// embedded identity without a database round-trip.
func (s *Service) CurrentUser(tokenString string) (Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (any, error) {
		return []byte(s.cfg.SecretKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil || !parsed.Valid {
		return Principal{}, apperr.NewUnauthenticated("invalid or expired token")
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return Principal{}, apperr.NewUnauthenticated("invalid token claims")
	}
	return Principal{Username: c.Username, Role: Role(c.Role)}, nil
}

// issueTokenPair mints a fresh access token and persists a fresh refresh
// token for user.
func (s *Service) issueTokenPair(ctx context.Context, user User) (*TokenPair, error) {
	now := s.clock.Now()
	accessLifetime := s.cfg.AccessTokenLifetime
	if accessLifetime <= 0 {
		accessLifetime = 30 * time.Minute
	}
	refreshLifetime := s.cfg.RefreshTokenLifetime
	if refreshLifetime <= 0 {
		refreshLifetime = 7 * 24 * time.Hour
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		Username: user.Username,
		Role:     string(user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(accessLifetime)),
		},
	})
	accessToken, err := token.SignedString([]byte(s.cfg.SecretKey))
	if err != nil {
		return nil, &apperr.StorageError{Op: "sign_access_token", Cause: err}
	}

	refreshValue := clock.NewID()
	record := RefreshToken{
		UserID:    user.Username,
		Token:     refreshValue,
		ExpiresAt: now.Add(refreshLifetime),
		IsRevoked: false,
		CreatedAt: now,
	}
	coll := s.store.Collection(store.CollectionRefreshTokens)
	if _, err := store.Insert(ctx, coll, record); err != nil {
		return nil, &apperr.StorageError{Op: "persist_refresh_token", Cause: err}
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		TokenType:    "Bearer",
		ExpiresIn:    int(accessLifetime.Seconds()),
	}, nil
}
