package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fechatter/fechatter/internal/models"
)

// refresh tokens are opaque random strings handed to the client; only their
// sha256 hash is ever persisted, so a database leak does not hand out usable
// sessions.
func newOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func hashToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// CreateRefreshToken issues a brand-new refresh token for userID (e.g. at
// signin, where there is no prior chain to rotate) and stores its hash.
func CreateRefreshToken(ctx context.Context, pool *pgxpool.Pool, userID models.ULID, ttl time.Duration) (string, error) {
	plaintext, err := newOpaqueToken()
	if err != nil {
		return "", err
	}
	now := time.Now()

	_, err = pool.Exec(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, issued_at, expires_at) VALUES ($1, $2, $3, $4)`,
		hashToken(plaintext), userID.String(), now, now.Add(ttl),
	)
	if err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return plaintext, nil
}

// RotateRefreshToken consumes oldPlaintext and issues its successor in the
// chain. The transition is linearized with a single conditional UPDATE:
// exactly one caller can ever win the race to rotate a given token, because
// the WHERE clause only matches a token that is still live (unreplaced,
// unrevoked, unexpired).
//
// If oldPlaintext has already been rotated or revoked, that is a reuse
// signal: the entire chain for the affected user is revoked and
// models.ErrTokenReused is returned. A token that simply doesn't exist or
// has expired naturally returns models.ErrTokenInvalid.
func RotateRefreshToken(ctx context.Context, pool *pgxpool.Pool, oldPlaintext string, ttl time.Duration) (newPlaintext string, userID models.ULID, err error) {
	oldHash := hashToken(oldPlaintext)

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", models.ULID{}, fmt.Errorf("begin rotate tx: %w", err)
	}
	defer tx.Rollback(ctx)

	newPlaintext, err = newOpaqueToken()
	if err != nil {
		return "", models.ULID{}, err
	}
	newHash := hashToken(newPlaintext)
	now := time.Now()

	var userIDStr string
	rotateErr := tx.QueryRow(ctx,
		`UPDATE refresh_tokens
		 SET replaced_by = $1
		 WHERE token_hash = $2 AND replaced_by IS NULL AND revoked = false AND expires_at > $3
		 RETURNING user_id`,
		newHash, oldHash, now,
	).Scan(&userIDStr)

	if errors.Is(rotateErr, pgx.ErrNoRows) {
		return "", models.ULID{}, handleRotateMiss(ctx, tx, pool, oldHash)
	}
	if rotateErr != nil {
		return "", models.ULID{}, fmt.Errorf("rotate refresh token: %w", rotateErr)
	}

	uid, err := models.ParseULID(userIDStr)
	if err != nil {
		return "", models.ULID{}, fmt.Errorf("parse user id from refresh token: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO refresh_tokens (token_hash, user_id, issued_at, expires_at) VALUES ($1, $2, $3, $4)`,
		newHash, uid.String(), now, now.Add(ttl),
	); err != nil {
		return "", models.ULID{}, fmt.Errorf("store rotated refresh token: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", models.ULID{}, fmt.Errorf("commit rotate tx: %w", err)
	}

	return newPlaintext, uid, nil
}

// handleRotateMiss runs once the conditional UPDATE matched no row. It
// distinguishes "token never existed / already expired" from "token was
// already consumed", and on the latter revokes the whole chain before
// returning ErrTokenReused.
func handleRotateMiss(ctx context.Context, tx pgx.Tx, pool *pgxpool.Pool, oldHash string) error {
	var userIDStr string
	var replacedBy *string
	var revoked bool
	err := tx.QueryRow(ctx,
		`SELECT user_id, replaced_by, revoked FROM refresh_tokens WHERE token_hash = $1`,
		oldHash,
	).Scan(&userIDStr, &replacedBy, &revoked)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrTokenInvalid
	}
	if err != nil {
		return fmt.Errorf("inspect refresh token after rotate miss: %w", err)
	}

	if replacedBy == nil && !revoked {
		// Expired naturally, not reused.
		return models.ErrTokenInvalid
	}

	uid, err := models.ParseULID(userIDStr)
	if err != nil {
		return fmt.Errorf("parse user id for reuse revocation: %w", err)
	}
	if err := revokeAllRefreshTokensTx(ctx, tx, uid); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit reuse revocation: %w", err)
	}
	return models.ErrTokenReused
}

// RevokeAllRefreshTokens revokes every refresh token in userID's chain,
// e.g. on explicit logout-everywhere or reuse detection.
func RevokeAllRefreshTokens(ctx context.Context, pool *pgxpool.Pool, userID models.ULID) error {
	_, err := pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE user_id = $1 AND revoked = false`,
		userID.String(),
	)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

func revokeAllRefreshTokensTx(ctx context.Context, tx pgx.Tx, userID models.ULID) error {
	_, err := tx.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE user_id = $1 AND revoked = false`,
		userID.String(),
	)
	if err != nil {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}
	return nil
}

// RevokeRefreshToken revokes a single token by its plaintext value, used by
// an explicit single-device logout.
func RevokeRefreshToken(ctx context.Context, pool *pgxpool.Pool, plaintext string) error {
	_, err := pool.Exec(ctx,
		`UPDATE refresh_tokens SET revoked = true, revoked_at = now() WHERE token_hash = $1`,
		hashToken(plaintext),
	)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}
