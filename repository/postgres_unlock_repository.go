package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"starQuestAPI/internal/leaderboard"
)

type PostgresUnlockRepository struct {
	db *pgxpool.Pool
}

func NewPostgresUnlockRepository(db *pgxpool.Pool) *PostgresUnlockRepository {
	return &PostgresUnlockRepository{db: db}
}

func (r *PostgresUnlockRepository) HasUnlocked(ctx context.Context, achievementID uuid.UUID, userID string) (bool, error) {
	var unlocked bool
	query := `
	SELECT EXISTS (
		SELECT 1 FROM unlocked_achievements
		WHERE achievement_id = $1 AND user_id = $2
	)
	`

	if err := r.db.QueryRow(ctx, query, achievementID, userID).Scan(&unlocked); err != nil {
		return false, fmt.Errorf("failed to check unlock: %w", err)
	}

	return unlocked, nil
}

// Unlock inserts the (achievement, user) fact if it is absent. The unique
// constraint is the sole arbiter when two callers race: one insert lands,
// the other turns into a no-op and reports created=false.
func (r *PostgresUnlockRepository) Unlock(ctx context.Context, achievementID uuid.UUID, userID string) (bool, error) {
	query := `
	INSERT INTO unlocked_achievements (achievement_id, user_id, unlocked_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (achievement_id, user_id) DO NOTHING
	`

	tag, err := r.db.Exec(ctx, query, achievementID, userID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record unlock: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func (r *PostgresUnlockRepository) Leaderboard(ctx context.Context, limit int) (*leaderboard.Leaderboard, error) {
	query := `
	SELECT u.user_id, SUM(a.points) AS points, COUNT(*) AS completed, MAX(u.unlocked_at) AS last_unlocked_at
	FROM unlocked_achievements u
	JOIN achievements a ON a.id = u.achievement_id
	GROUP BY u.user_id
	ORDER BY points DESC, completed DESC, last_unlocked_at ASC, u.user_id ASC
	LIMIT $1
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}
	defer rows.Close()

	board := &leaderboard.Leaderboard{Entries: []*leaderboard.Entry{}}
	for rows.Next() {
		e := &leaderboard.Entry{}
		if err := rows.Scan(&e.UserID, &e.Points, &e.Completed, &e.LastUnlockedAt); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		e.Rank = len(board.Entries) + 1
		board.Entries = append(board.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}

	err = r.db.QueryRow(ctx, `SELECT COUNT(DISTINCT user_id) FROM unlocked_achievements`).Scan(&board.TotalUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to count leaderboard users: %w", err)
	}

	return board, nil
}
