package leaderboard

import "time"

// Entry is one ranked row of the standings. Ties on points break on completed
// count, then on whose latest unlock came first (they reached the score
// earlier), then on user id so the order is total.
type Entry struct {
	UserID         string    `json:"user_id" db:"user_id"`
	Points         int       `json:"points" db:"points"`
	Completed      int       `json:"completed" db:"completed"`
	LastUnlockedAt time.Time `json:"last_unlocked_at" db:"last_unlocked_at"`
	Rank           int       `json:"rank"`
}

type Leaderboard struct {
	Entries    []*Entry `json:"entries"`
	TotalUsers int      `json:"total_users"`
}
