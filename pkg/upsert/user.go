package upsert

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/anvil-ha/anvil/pkg/sqlexec"
)

const (
	pbkdf2Iterations = 100000
	saltBytes        = 16
)

// User is a dashboard account.
type User struct {
	UUID          string
	Name          string
	Password      string // plaintext; hashed before storage, never stored as-is
	Language      string
	IsAdmin       bool
	IsExperienced bool
	IsTrusted     bool
}

// UpsertUser inserts or updates a users row. A non-empty Password is always
// re-hashed with a fresh salt, so callers should leave it empty when only
// updating the other fields of an existing account.
func UpsertUser(ctx context.Context, ex *sqlexec.Executor, u User) (Result, error) {
	if u.Name == "" {
		return Result{}, fmt.Errorf("upsert: user_name is required")
	}
	if u.UUID != "" && !ValidUUID(u.UUID) {
		return Result{}, fmt.Errorf("upsert: invalid user_uuid %q", u.UUID)
	}

	language := u.Language
	if language == "" {
		language = "en_US"
	}

	values := Fields{
		"user_name":      u.Name,
		"language":       language,
		"is_admin":       u.IsAdmin,
		"is_experienced": u.IsExperienced,
		"is_trusted":     u.IsTrusted,
		"algorithm":      "pbkdf2-sha256",
		"iteration_count": pbkdf2Iterations,
	}

	if u.Password != "" {
		salt, hash, err := hashPassword(u.Password)
		if err != nil {
			return Result{}, err
		}
		values["salt"] = salt
		values["password_hash"] = hash
	} else {
		// fieldsEqual requires every compared column to be present; callers
		// updating non-password fields still need salt/password_hash read
		// back from the stored row so the comparison doesn't treat them as
		// changed. currentPassword fetches the current values.
		salt, hash, err := currentPassword(ctx, ex, u.UUID, u.Name)
		if err != nil {
			return Result{}, err
		}
		values["salt"] = salt
		values["password_hash"] = hash
	}

	spec := Spec{
		Table:      "users",
		HistoryOK:  true,
		UUIDColumn: "user_uuid",
		UUID:       u.UUID,
		NaturalKey: map[string]any{"user_name": u.Name},
		Values:     values,
	}

	return Do(ctx, ex, spec, RefreshNow(ex))
}

// VerifyPassword checks a plaintext password against the stored hash for a
// user, looked up by name.
func VerifyPassword(ctx context.Context, ex *sqlexec.Executor, userName, password string) (bool, error) {
	rows, err := ex.Query(ctx, "", `SELECT salt, password_hash, iteration_count FROM users WHERE user_name = $1`, userName)
	if err != nil {
		return false, fmt.Errorf("upsert: reading user %q: %w", userName, err)
	}
	if len(rows) == 0 {
		return false, nil
	}
	salt := fmt.Sprintf("%v", rows[0]["salt"])
	storedHash := fmt.Sprintf("%v", rows[0]["password_hash"])
	computed := derive(password, salt)
	return computed == storedHash, nil
}

func hashPassword(password string) (salt, hash string, err error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("upsert: generating salt: %w", err)
	}
	salt = hex.EncodeToString(raw)
	return salt, derive(password, salt), nil
}

func derive(password, salt string) string {
	key := pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, sha256.Size, sha256.New)
	return hex.EncodeToString(key)
}

func currentPassword(ctx context.Context, ex *sqlexec.Executor, userUUID, userName string) (salt, hash string, err error) {
	var rows []sqlexec.Row
	if userUUID != "" {
		rows, err = ex.Query(ctx, "", `SELECT salt, password_hash FROM users WHERE user_uuid = $1`, userUUID)
	} else {
		rows, err = ex.Query(ctx, "", `SELECT salt, password_hash FROM users WHERE user_name = $1`, userName)
	}
	if err != nil {
		return "", "", fmt.Errorf("upsert: reading current password: %w", err)
	}
	if len(rows) == 0 {
		// new user with no password supplied: store an unusable hash so the
		// account exists but cannot authenticate until a password is set.
		// derive always returns hex, so "!" never matches.
		salt, _, err = hashPassword("")
		if err != nil {
			return "", "", err
		}
		return salt, "!", nil
	}
	return fmt.Sprintf("%v", rows[0]["salt"]), fmt.Sprintf("%v", rows[0]["password_hash"]), nil
}
