package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"starQuestAPI/internal/achievement"
	"starQuestAPI/internal/apperrors"
)

const achievementColumns = `id, secret_id, key, name, hint, points, is_secret, is_hidden, type, emoji, image_url, created_at, updated_at`

// The shared catalog ordering. Name is globally unique so the trailing
// columns rarely decide, but they keep the order total either way.
const achievementOrder = `points DESC, type, is_secret, is_hidden, name, COALESCE(emoji, ''), id`

type PostgresAchievementRepository struct {
	db *pgxpool.Pool
}

func NewPostgresAchievementRepository(db *pgxpool.Pool) *PostgresAchievementRepository {
	return &PostgresAchievementRepository{db: db}
}

func scanAchievement(row pgx.Row) (*achievement.Achievement, error) {
	a := &achievement.Achievement{}
	err := row.Scan(
		&a.ID,
		&a.SecretID,
		&a.Key,
		&a.Name,
		&a.Hint,
		&a.Points,
		&a.IsSecret,
		&a.IsHidden,
		&a.Type,
		&a.Emoji,
		&a.ImageURL,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// conflictField maps a violated unique constraint to the field reported to
// the operator. Constraint names come from db/schema.sql.
func conflictField(constraint string) string {
	switch {
	case strings.Contains(constraint, "secret_id"):
		return "secret_id"
	case strings.Contains(constraint, "name"):
		return "name"
	case strings.Contains(constraint, "key"):
		return "key"
	default:
		return constraint
	}
}

func translateError(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound(what)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperrors.Conflict(conflictField(pgErr.ConstraintName))
	}
	return err
}

func (r *PostgresAchievementRepository) Create(ctx context.Context, a *achievement.Achievement) error {
	query := `
	INSERT INTO achievements (id, secret_id, key, name, hint, points, is_secret, is_hidden, type, emoji, image_url, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.Exec(ctx, query,
		a.ID, a.SecretID, a.Key, a.Name, a.Hint, a.Points, a.IsSecret,
		a.IsHidden, a.Type, a.Emoji, a.ImageURL, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if translated := translateError(err, "achievement"); translated != err {
			return translated
		}
		return fmt.Errorf("failed to create achievement: %w", err)
	}

	return nil
}

func (r *PostgresAchievementRepository) Update(ctx context.Context, a *achievement.Achievement) error {
	query := `
	UPDATE achievements
	SET key = $2, name = $3, hint = $4, points = $5, is_secret = $6, is_hidden = $7, type = $8, emoji = $9, image_url = $10, updated_at = $11
	WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query,
		a.ID, a.Key, a.Name, a.Hint, a.Points, a.IsSecret, a.IsHidden,
		a.Type, a.Emoji, a.ImageURL, a.UpdatedAt,
	)
	if err != nil {
		if translated := translateError(err, "achievement"); translated != err {
			return translated
		}
		return fmt.Errorf("failed to update achievement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("achievement")
	}

	return nil
}

func (r *PostgresAchievementRepository) getOne(ctx context.Context, where string, args ...any) (*achievement.Achievement, error) {
	query := `SELECT ` + achievementColumns + ` FROM achievements WHERE ` + where

	a, err := scanAchievement(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("achievement")
		}
		return nil, fmt.Errorf("failed to get achievement: %w", err)
	}

	return a, nil
}

func (r *PostgresAchievementRepository) GetByID(ctx context.Context, id uuid.UUID) (*achievement.Achievement, error) {
	return r.getOne(ctx, `id = $1`, id)
}

func (r *PostgresAchievementRepository) GetBySecretID(ctx context.Context, secretID string) (*achievement.Achievement, error) {
	return r.getOne(ctx, `secret_id = $1`, secretID)
}

func (r *PostgresAchievementRepository) GetByKey(ctx context.Context, key string, typ achievement.Type) (*achievement.Achievement, error) {
	return r.getOne(ctx, `key = $1 AND type = $2`, key, typ)
}

func (r *PostgresAchievementRepository) GetByKeyInsensitive(ctx context.Context, key string) (*achievement.Achievement, error) {
	return r.getOne(ctx, `lower(key) = lower($1)`, key)
}

func (r *PostgresAchievementRepository) Delete(ctx context.Context, id uuid.UUID) error {
	// Unlock facts go with the achievement via ON DELETE CASCADE.
	tag, err := r.db.Exec(ctx, `DELETE FROM achievements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete achievement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("achievement")
	}

	return nil
}

const searchFilter = `($1 = '' OR name ILIKE '%' || $1 || '%' OR hint ILIKE '%' || $1 || '%')`

func (r *PostgresAchievementRepository) List(ctx context.Context, filter ListFilter, cursor *uuid.UUID, limit int) (*Page, error) {
	var (
		rows pgx.Rows
		err  error
	)

	if cursor == nil {
		query := `
		SELECT ` + achievementColumns + `
		FROM achievements
		WHERE ` + searchFilter + `
		ORDER BY ` + achievementOrder + `
		LIMIT $2
		`
		rows, err = r.db.Query(ctx, query, filter.SearchTerm, limit+1)
	} else {
		// Resume at the cursor row (inclusive): it was popped off the
		// previous page, so it opens this one. Points sorts descending while
		// the remaining columns ascend, hence the two-armed comparison. The
		// CTE columns are renamed so none of them shadows an achievements
		// column in the outer references.
		query := `
		WITH cur AS (
			SELECT points AS cur_points, type AS cur_type, is_secret AS cur_secret,
			       is_hidden AS cur_hidden, name AS cur_name,
			       COALESCE(emoji, '') AS cur_emoji, id AS cur_id
			FROM achievements WHERE id = $3
		)
		SELECT ` + achievementColumns + `
		FROM achievements, cur
		WHERE ` + searchFilter + ` AND (
			points < cur_points
			OR (points = cur_points AND (type, is_secret, is_hidden, name, COALESCE(emoji, ''), id) >= (cur_type, cur_secret, cur_hidden, cur_name, cur_emoji, cur_id))
		)
		ORDER BY ` + achievementOrder + `
		LIMIT $2
		`
		rows, err = r.db.Query(ctx, query, filter.SearchTerm, limit+1, *cursor)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	items := make([]achievement.Achievement, 0, limit+1)
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}

	page := &Page{Items: items}
	if len(items) > limit {
		next := items[limit].ID
		page.Items = items[:limit]
		page.NextCursor = &next
	}

	return page, nil
}

func (r *PostgresAchievementRepository) Count(ctx context.Context, filter ListFilter) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM achievements WHERE `+searchFilter, filter.SearchTerm).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count achievements: %w", err)
	}
	return count, nil
}

func (r *PostgresAchievementRepository) CountVisible(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM achievements WHERE is_hidden = false`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count achievements: %w", err)
	}
	return count, nil
}

func (r *PostgresAchievementRepository) UnlockedCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	counts := make(map[uuid.UUID]int, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}

	textIDs := make([]string, len(ids))
	for i, id := range ids {
		textIDs[i] = id.String()
	}

	query := `
	SELECT achievement_id, COUNT(*)
	FROM unlocked_achievements
	WHERE achievement_id = ANY($1::uuid[])
	GROUP BY achievement_id
	`

	rows, err := r.db.Query(ctx, query, textIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count unlocks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, fmt.Errorf("failed to scan unlock count: %w", err)
		}
		counts[id] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count unlocks: %w", err)
	}

	return counts, nil
}

func (r *PostgresAchievementRepository) listMany(ctx context.Context, query string, args ...any) ([]achievement.Achievement, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	defer rows.Close()

	var items []achievement.Achievement
	for rows.Next() {
		a, err := scanAchievement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}

	return items, nil
}

func (r *PostgresAchievementRepository) ListUnlockedByUser(ctx context.Context, userID string) ([]achievement.Achievement, error) {
	query := `
	SELECT ` + achievementColumns + `
	FROM achievements
	WHERE EXISTS (
		SELECT 1 FROM unlocked_achievements u
		WHERE u.achievement_id = achievements.id AND u.user_id = $1
	)
	ORDER BY ` + achievementOrder

	return r.listMany(ctx, query, userID)
}

func (r *PostgresAchievementRepository) ListLockedVisibleForUser(ctx context.Context, userID string) ([]achievement.Achievement, error) {
	query := `
	SELECT ` + achievementColumns + `
	FROM achievements
	WHERE is_hidden = false AND NOT EXISTS (
		SELECT 1 FROM unlocked_achievements u
		WHERE u.achievement_id = achievements.id AND u.user_id = $1
	)
	ORDER BY ` + achievementOrder

	return r.listMany(ctx, query, userID)
}

func (r *PostgresAchievementRepository) ListGithubNotUnlocked(ctx context.Context, userID string) ([]achievement.Achievement, error) {
	query := `
	SELECT ` + achievementColumns + `
	FROM achievements
	WHERE type = 'GITHUB_STAR' AND NOT EXISTS (
		SELECT 1 FROM unlocked_achievements u
		WHERE u.achievement_id = achievements.id AND u.user_id = $1
	)
	ORDER BY ` + achievementOrder

	return r.listMany(ctx, query, userID)
}
