package repository

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"starQuestAPI/internal/achievement"
	"starQuestAPI/internal/apperrors"
	"starQuestAPI/internal/leaderboard"
)

// MemoryStore backs both the catalog and the unlock ledger with a single
// mutex-guarded map pair. It serves single-process deployments and the test
// suite; all uniqueness and idempotency guarantees hold under the lock the
// same way the postgres constraints hold them.
type MemoryStore struct {
	mu           sync.RWMutex
	achievements map[uuid.UUID]achievement.Achievement
	unlocks      map[uuid.UUID]map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		achievements: make(map[uuid.UUID]achievement.Achievement),
		unlocks:      make(map[uuid.UUID]map[string]time.Time),
	}
}

var _ AchievementRepository = (*MemoryStore)(nil)
var _ UnlockRepository = (*MemoryStore)(nil)

// conflictWith reports the first unique field of a that collides with an
// existing row other than self.
func (s *MemoryStore) conflictWith(a *achievement.Achievement, self uuid.UUID) string {
	for id, other := range s.achievements {
		if id == self {
			continue
		}
		if other.Name == a.Name {
			return "name"
		}
		if a.Key != nil && other.Key != nil && strings.EqualFold(*other.Key, *a.Key) {
			return "key"
		}
		if other.SecretID == a.SecretID {
			return "secret_id"
		}
	}
	return ""
}

func (s *MemoryStore) Create(_ context.Context, a *achievement.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if field := s.conflictWith(a, a.ID); field != "" {
		return apperrors.Conflict(field)
	}

	s.achievements[a.ID] = *a
	return nil
}

func (s *MemoryStore) Update(_ context.Context, a *achievement.Achievement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.achievements[a.ID]
	if !ok {
		return apperrors.NotFound("achievement")
	}
	if field := s.conflictWith(a, a.ID); field != "" {
		return apperrors.Conflict(field)
	}

	// secret_id and created_at are immutable.
	a.SecretID = existing.SecretID
	a.CreatedAt = existing.CreatedAt
	s.achievements[a.ID] = *a
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.achievements[id]
	if !ok {
		return nil, apperrors.NotFound("achievement")
	}
	return &a, nil
}

func (s *MemoryStore) findOne(match func(achievement.Achievement) bool) (*achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.achievements {
		if match(a) {
			found := a
			return &found, nil
		}
	}
	return nil, apperrors.NotFound("achievement")
}

func (s *MemoryStore) GetBySecretID(_ context.Context, secretID string) (*achievement.Achievement, error) {
	return s.findOne(func(a achievement.Achievement) bool {
		return a.SecretID == secretID
	})
}

func (s *MemoryStore) GetByKey(_ context.Context, key string, typ achievement.Type) (*achievement.Achievement, error) {
	return s.findOne(func(a achievement.Achievement) bool {
		return a.Key != nil && *a.Key == key && a.Type == typ
	})
}

func (s *MemoryStore) GetByKeyInsensitive(_ context.Context, key string) (*achievement.Achievement, error) {
	return s.findOne(func(a achievement.Achievement) bool {
		return a.Key != nil && strings.EqualFold(*a.Key, key)
	})
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.achievements[id]; !ok {
		return apperrors.NotFound("achievement")
	}
	delete(s.achievements, id)
	delete(s.unlocks, id)
	return nil
}

func matchesFilter(a achievement.Achievement, filter ListFilter) bool {
	if filter.SearchTerm == "" {
		return true
	}
	term := strings.ToLower(filter.SearchTerm)
	if strings.Contains(strings.ToLower(a.Name), term) {
		return true
	}
	return a.Hint != nil && strings.Contains(strings.ToLower(*a.Hint), term)
}

func emojiOrEmpty(a achievement.Achievement) string {
	if a.Emoji == nil {
		return ""
	}
	return *a.Emoji
}

// orderedBefore is the composite catalog ordering: points descending, then
// type, is_secret, is_hidden, name, emoji and id ascending.
func orderedBefore(a, b achievement.Achievement) bool {
	if a.Points != b.Points {
		return a.Points > b.Points
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	if a.IsSecret != b.IsSecret {
		return !a.IsSecret
	}
	if a.IsHidden != b.IsHidden {
		return !a.IsHidden
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if ae, be := emojiOrEmpty(a), emojiOrEmpty(b); ae != be {
		return ae < be
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func (s *MemoryStore) sorted(keep func(achievement.Achievement) bool) []achievement.Achievement {
	items := make([]achievement.Achievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		if keep(a) {
			items = append(items, a)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return orderedBefore(items[i], items[j])
	})
	return items
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter, cursor *uuid.UUID, limit int) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := s.sorted(func(a achievement.Achievement) bool {
		return matchesFilter(a, filter)
	})

	start := 0
	if cursor != nil {
		start = len(items)
		for i, a := range items {
			if a.ID == *cursor {
				start = i
				break
			}
		}
	}
	items = items[start:]

	page := &Page{Items: items}
	if len(items) > limit {
		next := items[limit].ID
		page.Items = items[:limit]
		page.NextCursor = &next
	}

	return page, nil
}

func (s *MemoryStore) Count(_ context.Context, filter ListFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, a := range s.achievements {
		if matchesFilter(a, filter) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountVisible(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, a := range s.achievements {
		if !a.IsHidden {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) UnlockedCounts(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[uuid.UUID]int, len(ids))
	for _, id := range ids {
		if users, ok := s.unlocks[id]; ok {
			counts[id] = len(users)
		}
	}
	return counts, nil
}

func (s *MemoryStore) hasUnlockedLocked(achievementID uuid.UUID, userID string) bool {
	users, ok := s.unlocks[achievementID]
	if !ok {
		return false
	}
	_, unlocked := users[userID]
	return unlocked
}

func (s *MemoryStore) ListUnlockedByUser(_ context.Context, userID string) ([]achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sorted(func(a achievement.Achievement) bool {
		return s.hasUnlockedLocked(a.ID, userID)
	}), nil
}

func (s *MemoryStore) ListLockedVisibleForUser(_ context.Context, userID string) ([]achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sorted(func(a achievement.Achievement) bool {
		return !a.IsHidden && !s.hasUnlockedLocked(a.ID, userID)
	}), nil
}

func (s *MemoryStore) ListGithubNotUnlocked(_ context.Context, userID string) ([]achievement.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sorted(func(a achievement.Achievement) bool {
		return a.Type == achievement.TypeGithubStar && !s.hasUnlockedLocked(a.ID, userID)
	}), nil
}

func (s *MemoryStore) HasUnlocked(_ context.Context, achievementID uuid.UUID, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.hasUnlockedLocked(achievementID, userID), nil
}

// Unlock is the in-process equivalent of INSERT ... ON CONFLICT DO NOTHING:
// the check and the insert happen under one lock, so racing callers see
// exactly one created=true.
func (s *MemoryStore) Unlock(_ context.Context, achievementID uuid.UUID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.unlocks[achievementID]
	if !ok {
		users = make(map[string]time.Time)
		s.unlocks[achievementID] = users
	}
	if _, unlocked := users[userID]; unlocked {
		return false, nil
	}

	users[userID] = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) Leaderboard(_ context.Context, limit int) (*leaderboard.Leaderboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byUser := make(map[string]*leaderboard.Entry)
	for achievementID, users := range s.unlocks {
		a, ok := s.achievements[achievementID]
		if !ok {
			continue
		}
		for userID, at := range users {
			e, ok := byUser[userID]
			if !ok {
				e = &leaderboard.Entry{UserID: userID}
				byUser[userID] = e
			}
			e.Points += a.Points
			e.Completed++
			if at.After(e.LastUnlockedAt) {
				e.LastUnlockedAt = at
			}
		}
	}

	entries := make([]*leaderboard.Entry, 0, len(byUser))
	for _, e := range byUser {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		if a.Completed != b.Completed {
			return a.Completed > b.Completed
		}
		if !a.LastUnlockedAt.Equal(b.LastUnlockedAt) {
			return a.LastUnlockedAt.Before(b.LastUnlockedAt)
		}
		return a.UserID < b.UserID
	})

	board := &leaderboard.Leaderboard{TotalUsers: len(entries)}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	for i, e := range entries {
		e.Rank = i + 1
	}
	board.Entries = entries

	return board, nil
}
