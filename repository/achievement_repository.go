package repository

import (
	"context"

	"github.com/google/uuid"

	"starQuestAPI/internal/achievement"
	"starQuestAPI/internal/leaderboard"
)

// ListFilter narrows the operator catalog listing.
type ListFilter struct {
	// SearchTerm matches as a case-insensitive substring of name or hint.
	SearchTerm string
}

// Page is one keyset-paginated slice of the catalog. NextCursor is the id of
// the first item of the following page, nil when pagination is exhausted.
type Page struct {
	Items      []achievement.Achievement
	NextCursor *uuid.UUID
}

// AchievementRepository is the catalog store. Implementations enforce the
// uniqueness of name, secret_id and the type-scoped key, and report a
// violated constraint as an apperrors Conflict naming the field. A concurrent
// create racing on the same unique value yields exactly one success; the
// constraint itself is the arbiter, never a prior existence check.
//
// List and the two per-user listings share one stable composite ordering:
// points DESC, then type, is_secret, is_hidden, name, emoji, id ascending.
type AchievementRepository interface {
	Create(ctx context.Context, a *achievement.Achievement) error
	Update(ctx context.Context, a *achievement.Achievement) error
	GetByID(ctx context.Context, id uuid.UUID) (*achievement.Achievement, error)
	GetBySecretID(ctx context.Context, secretID string) (*achievement.Achievement, error)
	GetByKey(ctx context.Context, key string, typ achievement.Type) (*achievement.Achievement, error)

	// GetByKeyInsensitive matches key case-insensitively across all types.
	// The secret-code resolver decides afterwards whether the type fits.
	GetByKeyInsensitive(ctx context.Context, key string) (*achievement.Achievement, error)

	// Delete removes the achievement and cascades its unlock facts.
	Delete(ctx context.Context, id uuid.UUID) error

	// List fetches limit+1 rows and pops the extra one into NextCursor.
	// A non-nil cursor resumes at that row (inclusive) under the composite
	// ordering, so the popped row opens the next page.
	List(ctx context.Context, filter ListFilter, cursor *uuid.UUID, limit int) (*Page, error)
	Count(ctx context.Context, filter ListFilter) (int, error)

	// CountVisible counts non-hidden achievements, the denominator shown to
	// end users.
	CountVisible(ctx context.Context) (int, error)

	// UnlockedCounts returns how many users unlocked each given achievement.
	UnlockedCounts(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error)

	ListUnlockedByUser(ctx context.Context, userID string) ([]achievement.Achievement, error)

	// ListLockedVisibleForUser lists non-hidden achievements the user has not
	// unlocked yet.
	ListLockedVisibleForUser(ctx context.Context, userID string) ([]achievement.Achievement, error)

	// ListGithubNotUnlocked lists GITHUB_STAR achievements (hidden included)
	// the user has not unlocked yet.
	ListGithubNotUnlocked(ctx context.Context, userID string) ([]achievement.Achievement, error)
}

// UnlockRepository is the unlock ledger. Unlock is idempotent under
// concurrency: when two callers race on the same pair, exactly one observes
// created=true, the store ends with a single fact, and neither caller fails.
type UnlockRepository interface {
	HasUnlocked(ctx context.Context, achievementID uuid.UUID, userID string) (bool, error)
	Unlock(ctx context.Context, achievementID uuid.UUID, userID string) (created bool, err error)

	// Leaderboard aggregates the ledger into ranked standings.
	Leaderboard(ctx context.Context, limit int) (*leaderboard.Leaderboard, error)
}
