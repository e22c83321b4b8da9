package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/knjiznica/internal/apperr"
	"github.com/erazemk/knjiznica/internal/model"
)

const userConfigColumns = `user_id, full_name, email, class_name, status, prior_status, suspended_until, updated_at`

// CreateUserConfig inserts the library profile for a user.
func CreateUserConfig(ctx context.Context, q Querier, c model.UserConfig) (*model.UserConfig, error) {
	if c.Status == "" {
		c.Status = model.AccountPending
	}
	if c.Status == model.AccountSuspended {
		return nil, fmt.Errorf("accounts cannot be created suspended")
	}

	_, err := q.ExecContext(ctx,
		`INSERT INTO user_configs (user_id, full_name, email, class_name, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.UserID, c.FullName, c.Email, c.ClassName, c.Status, time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating user config: %w", err)
	}
	return GetUserConfig(ctx, q, c.UserID)
}

// GetUserConfig returns the profile of a user, or nil if none exists.
func GetUserConfig(ctx context.Context, q Querier, userID int64) (*model.UserConfig, error) {
	c := &model.UserConfig{}
	var prior sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT `+userConfigColumns+` FROM user_configs WHERE user_id = ?`, userID,
	).Scan(&c.UserID, &c.FullName, &c.Email, &c.ClassName, &c.Status, &prior, &c.SuspendedUntil, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user config: %w", err)
	}
	c.PriorStatus = prior.String
	return c, nil
}

// UpdateUserProfile updates the descriptive profile fields.
func UpdateUserProfile(ctx context.Context, q Querier, userID int64, fullName, email, className string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE user_configs SET full_name = ?, email = ?, class_name = ?, updated_at = ?
		 WHERE user_id = ?`,
		fullName, email, className, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("updating user profile: %w", err)
	}
	return nil
}

// SetAccountStatus moves an account between pending, approved and rejected.
// Suspension is only applied and lifted through Suspend and Unsuspend.
func SetAccountStatus(ctx context.Context, q Querier, userID int64, status string) error {
	switch status {
	case model.AccountPending, model.AccountApproved, model.AccountRejected:
	default:
		return apperr.Validation("invalid account status", map[string]any{"status": status})
	}

	result, err := q.ExecContext(ctx,
		`UPDATE user_configs SET status = ?, updated_at = ?
		 WHERE user_id = ? AND status != 'suspended'`,
		status, time.Now().UTC(), userID,
	)
	if err != nil {
		return fmt.Errorf("setting account status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		c, err := GetUserConfig(ctx, q, userID)
		if err != nil {
			return err
		}
		if c == nil {
			return apperr.NotFoundWithID("user", userID)
		}
		return apperr.UserSuspended(userID)
	}
	return nil
}

// Suspend marks the user suspended until now+days. Suspending an already
// suspended user overwrites the end date; it does not stack, and the status
// remembered for Unsuspend is the one held before the first suspension.
func Suspend(ctx context.Context, q Querier, userID int64, days int, now time.Time) (time.Time, error) {
	if days <= 0 {
		return time.Time{}, apperr.Validation("suspension days must be positive", map[string]any{"days": days})
	}
	until := now.UTC().AddDate(0, 0, days)

	result, err := q.ExecContext(ctx,
		`UPDATE user_configs
		 SET prior_status = CASE WHEN status = 'suspended' THEN prior_status ELSE status END,
		     status = 'suspended',
		     suspended_until = ?,
		     updated_at = ?
		 WHERE user_id = ?`,
		until, now.UTC(), userID,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("suspending user: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return time.Time{}, apperr.NotFoundWithID("user", userID)
	}
	return until, nil
}

// Unsuspend lifts a suspension, restoring the status held before it (approved
// if unknown). It reports whether anything changed; calling it on a user who
// is not suspended is a no-op.
func Unsuspend(ctx context.Context, q Querier, userID int64, now time.Time) (bool, error) {
	result, err := q.ExecContext(ctx,
		`UPDATE user_configs
		 SET status = COALESCE(prior_status, 'approved'),
		     prior_status = NULL,
		     suspended_until = NULL,
		     updated_at = ?
		 WHERE user_id = ? AND status = 'suspended'`,
		now.UTC(), userID,
	)
	if err != nil {
		return false, fmt.Errorf("lifting suspension: %w", err)
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return true, nil
	}

	c, err := GetUserConfig(ctx, q, userID)
	if err != nil {
		return false, err
	}
	if c == nil {
		return false, apperr.NotFoundWithID("user", userID)
	}
	return false, nil
}
