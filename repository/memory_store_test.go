package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starQuestAPI/internal/achievement"
	"starQuestAPI/internal/apperrors"
)

func newAchievement(name string, points int, typ achievement.Type) *achievement.Achievement {
	now := time.Now().UTC()
	return &achievement.Achievement{
		ID:        uuid.New(),
		SecretID:  uuid.NewString(),
		Name:      name,
		Points:    points,
		Type:      typ,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func withKey(a *achievement.Achievement, key string) *achievement.Achievement {
	a.Key = &key
	return a
}

func TestCreateDuplicateNameConflicts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, newAchievement("First Star", 100, achievement.TypeCustom)))

	err := store.Create(ctx, newAchievement("First Star", 50, achievement.TypeCustom))
	require.Error(t, err)

	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeConflict, appErr.Code)
	assert.Equal(t, "name", appErr.Field)

	count, err := store.Count(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "failed create must not change the catalog")
}

func TestCreateDuplicateKeyConflicts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, withKey(newAchievement("A", 10, achievement.TypeSecretCode), "open-sesame")))

	err := store.Create(ctx, withKey(newAchievement("B", 10, achievement.TypeInApp), "open-sesame"))
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "key", appErr.Field)
}

func TestCreateDuplicateKeyConflictsAcrossCase(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, withKey(newAchievement("A", 10, achievement.TypeSecretCode), "Open-Sesame")))

	// Keys resolve case-insensitively, so two keys differing only in case
	// would make GetByKeyInsensitive ambiguous. They must collide instead.
	err := store.Create(ctx, withKey(newAchievement("B", 10, achievement.TypeSecretCode), "open-sesame"))
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeConflict, appErr.Code)
	assert.Equal(t, "key", appErr.Field)

	got, err := store.GetByKeyInsensitive(ctx, "OPEN-SESAME")
	require.NoError(t, err)
	assert.Equal(t, "A", got.Name)
}

func TestUpdate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newAchievement("Original", 10, achievement.TypeCustom)
	b := newAchievement("Taken", 20, achievement.TypeCustom)
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	t.Run("renaming onto an existing name conflicts", func(t *testing.T) {
		update := *a
		update.Name = "Taken"
		var appErr *apperrors.Error
		require.ErrorAs(t, store.Update(ctx, &update), &appErr)
		assert.Equal(t, apperrors.CodeConflict, appErr.Code)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		update := *a
		update.ID = uuid.New()
		update.Name = "Fresh"
		var appErr *apperrors.Error
		require.ErrorAs(t, store.Update(ctx, &update), &appErr)
		assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
	})

	t.Run("secret id survives updates", func(t *testing.T) {
		update := *a
		update.Name = "Renamed"
		update.SecretID = "attacker-chosen"
		require.NoError(t, store.Update(ctx, &update))

		got, err := store.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, a.SecretID, got.SecretID)
	})
}

func TestGetByKeyInsensitive(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := withKey(newAchievement("Konami", 30, achievement.TypeSecretCode), "Up-Down-Left-Right")
	require.NoError(t, store.Create(ctx, a))

	got, err := store.GetByKeyInsensitive(ctx, "up-down-left-right")
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	_, err = store.GetByKeyInsensitive(ctx, "unknown")
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
}

func TestDeleteCascadesUnlocks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newAchievement("Ephemeral", 10, achievement.TypeCustom)
	require.NoError(t, store.Create(ctx, a))

	created, err := store.Unlock(ctx, a.ID, "user-1")
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, store.Delete(ctx, a.ID))

	unlocked, err := store.HasUnlocked(ctx, a.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, unlocked)

	var appErr *apperrors.Error
	require.ErrorAs(t, store.Delete(ctx, a.ID), &appErr)
	assert.Equal(t, apperrors.CodeNotFound, appErr.Code)
}

func TestListPaginationExample(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	// 100/100/50 points named C, B, A: equal points fall back to name
	// ascending, so the full order is B, C, A.
	require.NoError(t, store.Create(ctx, newAchievement("C", 100, achievement.TypeCustom)))
	require.NoError(t, store.Create(ctx, newAchievement("B", 100, achievement.TypeCustom)))
	require.NoError(t, store.Create(ctx, newAchievement("A", 50, achievement.TypeCustom)))

	page1, err := store.List(ctx, ListFilter{}, nil, 2)
	require.NoError(t, err)
	require.Len(t, page1.Items, 2)
	assert.Equal(t, "B", page1.Items[0].Name)
	assert.Equal(t, "C", page1.Items[1].Name)
	require.NotNil(t, page1.NextCursor)

	page2, err := store.List(ctx, ListFilter{}, page1.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.Equal(t, "A", page2.Items[0].Name)
	assert.Nil(t, page2.NextCursor)
}

func TestListPaginationWalkCoversCatalog(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 23; i++ {
		// Lots of equal points to stress the tie-break columns.
		a := newAchievement(fmt.Sprintf("Achievement %02d", i), (i%5)*10, achievement.TypeCustom)
		a.IsSecret = i%3 == 0
		require.NoError(t, store.Create(ctx, a))
	}

	full, err := store.List(ctx, ListFilter{}, nil, 100)
	require.NoError(t, err)
	require.Len(t, full.Items, 23)
	require.Nil(t, full.NextCursor)

	var walked []uuid.UUID
	var cursor *uuid.UUID
	for {
		page, err := store.List(ctx, ListFilter{}, cursor, 4)
		require.NoError(t, err)
		for _, item := range page.Items {
			walked = append(walked, item.ID)
		}
		if page.NextCursor == nil {
			break
		}
		cursor = page.NextCursor
	}

	require.Len(t, walked, 23, "paging must neither skip nor duplicate")
	for i, item := range full.Items {
		assert.Equal(t, item.ID, walked[i], "paged order must match the unbounded fetch")
	}
}

func TestListSearchTerm(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	hinted := newAchievement("Plain Name", 10, achievement.TypeCustom)
	hint := "Check your EMAIL"
	hinted.Hint = &hint
	require.NoError(t, store.Create(ctx, hinted))
	require.NoError(t, store.Create(ctx, newAchievement("Other", 10, achievement.TypeCustom)))

	page, err := store.List(ctx, ListFilter{SearchTerm: "email"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Plain Name", page.Items[0].Name)

	count, err := store.Count(ctx, ListFilter{SearchTerm: "email"})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestPerUserListings(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	visible := newAchievement("Visible", 10, achievement.TypeCustom)
	hidden := newAchievement("Hidden", 20, achievement.TypeCustom)
	hidden.IsHidden = true
	star := withKey(newAchievement("Star", 30, achievement.TypeGithubStar), "acme/repo")

	for _, a := range []*achievement.Achievement{visible, hidden, star} {
		require.NoError(t, store.Create(ctx, a))
	}

	_, err := store.Unlock(ctx, hidden.ID, "user-1")
	require.NoError(t, err)

	unlocked, err := store.ListUnlockedByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, hidden.ID, unlocked[0].ID)

	locked, err := store.ListLockedVisibleForUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, locked, 2)
	for _, a := range locked {
		assert.False(t, a.IsHidden)
	}

	githubs, err := store.ListGithubNotUnlocked(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, githubs, 1)
	assert.Equal(t, star.ID, githubs[0].ID)

	visibleCount, err := store.CountVisible(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, visibleCount)
}

func TestUnlockIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newAchievement("Once", 10, achievement.TypeCustom)
	require.NoError(t, store.Create(ctx, a))

	created, err := store.Unlock(ctx, a.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Unlock(ctx, a.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, created)

	counts, err := store.UnlockedCounts(ctx, []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[a.ID])
}

func TestUnlockConcurrentRaceHasOneWinner(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := newAchievement("Contested", 10, achievement.TypeCustom)
	require.NoError(t, store.Create(ctx, a))

	const racers = 32
	results := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.Unlock(ctx, a.ID, "user-1")
			assert.NoError(t, err)
			results <- created
		}()
	}
	wg.Wait()
	close(results)

	winners := 0
	for created := range results {
		if created {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one racer may create the fact")

	counts, err := store.UnlockedCounts(ctx, []uuid.UUID{a.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[a.ID])
}

func TestLeaderboardOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	big := newAchievement("Big", 150, achievement.TypeCustom)
	mid := newAchievement("Mid", 100, achievement.TypeCustom)
	small := newAchievement("Small", 50, achievement.TypeCustom)
	for _, a := range []*achievement.Achievement{big, mid, small} {
		require.NoError(t, store.Create(ctx, a))
	}

	// grinder reaches 150 through two unlocks, whale through one: equal
	// points, the higher completed count wins. loner trails on points.
	mustUnlock := func(id uuid.UUID, user string) {
		created, err := store.Unlock(ctx, id, user)
		require.NoError(t, err)
		require.True(t, created)
	}
	mustUnlock(mid.ID, "grinder")
	mustUnlock(small.ID, "grinder")
	mustUnlock(big.ID, "whale")
	mustUnlock(small.ID, "loner")

	board, err := store.Leaderboard(ctx, 10)
	require.NoError(t, err)

	require.Len(t, board.Entries, 3)
	assert.Equal(t, 3, board.TotalUsers)

	assert.Equal(t, "grinder", board.Entries[0].UserID)
	assert.Equal(t, 150, board.Entries[0].Points)
	assert.Equal(t, 2, board.Entries[0].Completed)
	assert.Equal(t, 1, board.Entries[0].Rank)

	assert.Equal(t, "whale", board.Entries[1].UserID)
	assert.Equal(t, 2, board.Entries[1].Rank)

	assert.Equal(t, "loner", board.Entries[2].UserID)
	assert.Equal(t, 3, board.Entries[2].Rank)

	truncated, err := store.Leaderboard(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, truncated.Entries, 1)
	assert.Equal(t, 3, truncated.TotalUsers)
}
