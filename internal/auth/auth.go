// Package auth implements Fechatter's identity and token core: signup,
// signin, access-token verification, and refresh-token rotation with reuse
// detection. Argon2id password hashing is CPU-heavy, so the Service caps
// how many hashes run at once with a semaphore, the same way internal/chat
// bounds concurrent sends. The hash itself runs on the calling goroutine;
// it is not handed off to a separate worker.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/semaphore"

	"github.com/fechatter/fechatter/internal/models"
)

// hashWorkers bounds how many Argon2id hashes run concurrently across the
// whole process; each one holds 64 MiB per passwordParams, so an
// unbounded fan-in of signups/signins could otherwise exhaust memory.
const hashWorkers = 4

// Service implements the identity and token core described in §4.1: account
// creation, credential verification, and the access/refresh token lifecycle.
type Service struct {
	pool        *pgxpool.Pool
	logger      *slog.Logger
	signingKey  string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	hashLimiter *semaphore.Weighted
}

// New builds a Service backed by pool, signing access tokens with
// signingKey.
func New(pool *pgxpool.Pool, signingKey string, accessTTL, refreshTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		pool:        pool,
		logger:      logger,
		signingKey:  signingKey,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		hashLimiter: semaphore.NewWeighted(hashWorkers),
	}
}

// SignupInput is the request payload for Signup.
type SignupInput struct {
	WorkspaceID models.ULID
	Email       string
	Password    string
	Fullname    string
}

// TokenPair is the response shape for every operation that (re)issues
// tokens: signup, signin, and refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	User         models.User
}

// Signup creates a new user in an existing workspace and returns a fresh
// token pair. The email-uniqueness constraint lives on the
// (workspace_id, email) unique index; a conflict there is reported as
// models.ErrEmailTaken.
func (s *Service) Signup(ctx context.Context, in SignupInput) (TokenPair, error) {
	if !ValidPasswordLength(in.Password) {
		return TokenPair{}, models.ErrWeakPassword
	}

	hash, err := s.hashPassword(ctx, in.Password)
	if err != nil {
		return TokenPair{}, err
	}

	user := models.User{
		ID:          models.NewULID(),
		WorkspaceID: in.WorkspaceID,
		Email:       in.Email,
		Fullname:    in.Fullname,
		Status:      models.UserStatusActive,
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (id, workspace_id, email, fullname, password_hash, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID.String(), user.WorkspaceID.String(), user.Email, user.Fullname, hash, string(user.Status),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return TokenPair{}, models.ErrEmailTaken
		}
		return TokenPair{}, fmt.Errorf("insert user: %w", err)
	}

	return s.issueTokenPair(ctx, user)
}

// SignupWorkspaceInput is the request payload for SignupWorkspace.
type SignupWorkspaceInput struct {
	WorkspaceName string
	Email         string
	Password      string
	Fullname      string
}

// SignupWorkspace creates a brand new workspace together with its first
// user, who becomes the workspace's owner. The workspaces.owner_user_id
// foreign key is DEFERRABLE INITIALLY DEFERRED specifically so this
// insert order — workspace row first, referencing a user that does not
// exist until the next statement — only gets checked at commit.
func (s *Service) SignupWorkspace(ctx context.Context, in SignupWorkspaceInput) (TokenPair, error) {
	if !ValidPasswordLength(in.Password) {
		return TokenPair{}, models.ErrWeakPassword
	}

	hash, err := s.hashPassword(ctx, in.Password)
	if err != nil {
		return TokenPair{}, err
	}

	workspace := models.Workspace{ID: models.NewULID(), Name: in.WorkspaceName}
	user := models.User{
		ID:          models.NewULID(),
		WorkspaceID: workspace.ID,
		Email:       in.Email,
		Fullname:    in.Fullname,
		Status:      models.UserStatusActive,
	}
	workspace.OwnerUserID = user.ID

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TokenPair{}, fmt.Errorf("begin signup transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO workspaces (id, name, owner_user_id) VALUES ($1, $2, $3)`,
		workspace.ID.String(), workspace.Name, workspace.OwnerUserID.String(),
	); err != nil {
		return TokenPair{}, fmt.Errorf("insert workspace: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO users (id, workspace_id, email, fullname, password_hash, status) VALUES ($1, $2, $3, $4, $5, $6)`,
		user.ID.String(), user.WorkspaceID.String(), user.Email, user.Fullname, hash, string(user.Status),
	); err != nil {
		if isUniqueViolation(err) {
			return TokenPair{}, models.ErrEmailTaken
		}
		return TokenPair{}, fmt.Errorf("insert user: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return TokenPair{}, fmt.Errorf("commit signup transaction: %w", err)
	}

	return s.issueTokenPair(ctx, user)
}

// Signin verifies email/password against workspaceID and returns a fresh
// token pair. Failure is reported as models.ErrInvalidCredential both for an
// unknown email and for a wrong password, so the two cases are
// indistinguishable to a caller.
func (s *Service) Signin(ctx context.Context, workspaceID models.ULID, email, password string) (TokenPair, error) {
	user, hash, err := s.lookupByEmail(ctx, workspaceID, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenPair{}, models.ErrInvalidCredential
		}
		return TokenPair{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := s.verifyPassword(ctx, password, hash)
	if err != nil {
		return TokenPair{}, err
	}
	if !ok {
		return TokenPair{}, models.ErrInvalidCredential
	}
	if !user.IsActive() {
		return TokenPair{}, models.ErrUserDisabled
	}

	if NeedsRehash(hash) {
		if newHash, err := s.hashPassword(ctx, password); err == nil {
			if _, err := s.pool.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, newHash, user.ID.String()); err != nil {
				s.logger.Warn("password rehash failed", slog.String("error", err.Error()))
			}
		}
	}

	return s.issueTokenPair(ctx, user)
}

// Refresh rotates refreshToken and returns a new token pair. A reused token
// revokes the whole chain; see RotateRefreshToken.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	newRefresh, userID, err := RotateRefreshToken(ctx, s.pool, refreshToken, s.refreshTTL)
	if err != nil {
		if errors.Is(err, models.ErrTokenReused) || errors.Is(err, models.ErrTokenInvalid) {
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("rotate refresh token: %w", err)
	}

	user, err := s.getUser(ctx, userID)
	if err != nil {
		return TokenPair{}, fmt.Errorf("load user for refresh: %w", err)
	}
	if !user.IsActive() {
		return TokenPair{}, models.ErrUserDisabled
	}

	access, err := NewAccessToken(user.ID, user.WorkspaceID, s.signingKey, s.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: newRefresh, User: user}, nil
}

// VerifyAccess validates an access token's signature and expiry and returns
// the claims it carries.
func (s *Service) VerifyAccess(tokenStr string) (models.Claims, error) {
	return ValidateAccessToken(tokenStr, s.signingKey)
}

// Logout revokes a single refresh token, ending one device's session.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return RevokeRefreshToken(ctx, s.pool, refreshToken)
}

// LogoutAll revokes every refresh token belonging to userID, ending every
// session for that user.
func (s *Service) LogoutAll(ctx context.Context, userID models.ULID) error {
	return RevokeAllRefreshTokens(ctx, s.pool, userID)
}

func (s *Service) issueTokenPair(ctx context.Context, user models.User) (TokenPair, error) {
	access, err := NewAccessToken(user.ID, user.WorkspaceID, s.signingKey, s.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := CreateRefreshToken(ctx, s.pool, user.ID, s.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("create refresh token: %w", err)
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, User: user}, nil
}

func (s *Service) lookupByEmail(ctx context.Context, workspaceID models.ULID, email string) (models.User, string, error) {
	var user models.User
	var hash string
	var idStr, wsStr, status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, email, fullname, password_hash, status, created_at
		 FROM users WHERE workspace_id = $1 AND email = $2`,
		workspaceID.String(), email,
	).Scan(&idStr, &wsStr, &user.Email, &user.Fullname, &hash, &status, &user.CreatedAt)
	if err != nil {
		return models.User{}, "", err
	}
	user.ID = models.MustParseULID(idStr)
	user.WorkspaceID = models.MustParseULID(wsStr)
	user.Status = models.UserStatus(status)
	return user, hash, nil
}

func (s *Service) getUser(ctx context.Context, userID models.ULID) (models.User, error) {
	var user models.User
	var idStr, wsStr, status string
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, email, fullname, status, created_at FROM users WHERE id = $1`,
		userID.String(),
	).Scan(&idStr, &wsStr, &user.Email, &user.Fullname, &status, &user.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	user.ID = models.MustParseULID(idStr)
	user.WorkspaceID = models.MustParseULID(wsStr)
	user.Status = models.UserStatus(status)
	return user, nil
}

// hashPassword acquires a slot on the bounded hashing pool before calling
// into Argon2id, so a burst of signups can't pile up unbounded memory use
// on the request path.
func (s *Service) hashPassword(ctx context.Context, password string) (string, error) {
	if err := s.hashLimiter.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hash worker: %w", err)
	}
	defer s.hashLimiter.Release(1)
	return HashPassword(password)
}

func (s *Service) verifyPassword(ctx context.Context, password, hash string) (bool, error) {
	if err := s.hashLimiter.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("acquire hash worker: %w", err)
	}
	defer s.hashLimiter.Release(1)
	return VerifyPassword(password, hash)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
