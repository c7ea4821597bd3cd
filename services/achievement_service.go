package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"starQuestAPI/internal/achievement"
	"starQuestAPI/internal/apperrors"
	"starQuestAPI/internal/github"
	"starQuestAPI/internal/identity"
	"starQuestAPI/internal/leaderboard"
	"starQuestAPI/middleware"
	"starQuestAPI/repository"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100

	defaultLeaderboardLimit = 100
)

// AchievementService orchestrates the catalog, the unlock ledger and the
// external collaborators. EventEnd is an optional global gate: once the
// clock passes it, completion attempts fail fast without touching anything.
type AchievementService struct {
	achievements repository.AchievementRepository
	unlocks      repository.UnlockRepository
	identity     identity.Provider
	github       github.StarChecker
	eventEnd     time.Time
	now          func() time.Time
}

func NewAchievementService(
	achievements repository.AchievementRepository,
	unlocks repository.UnlockRepository,
	identityProvider identity.Provider,
	starChecker github.StarChecker,
	eventEnd time.Time,
) *AchievementService {
	return &AchievementService{
		achievements: achievements,
		unlocks:      unlocks,
		identity:     identityProvider,
		github:       starChecker,
		eventEnd:     eventEnd,
		now:          time.Now,
	}
}

// ManagerPage is the operator listing response.
type ManagerPage struct {
	Items      []achievement.ManagerView `json:"items"`
	NextCursor *uuid.UUID                `json:"next_cursor,omitempty"`
	Total      int                       `json:"total"`
}

// CompletionListing is the app listing, split by unlock state.
type CompletionListing struct {
	Dones      []achievement.PublicView `json:"dones"`
	ToComplete []achievement.PublicView `json:"to_complete"`
	Total      int                      `json:"total"`
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

func (s *AchievementService) GetAll(ctx context.Context, cursor *uuid.UUID, limit int, searchTerm string) (*ManagerPage, error) {
	filter := repository.ListFilter{SearchTerm: strings.TrimSpace(searchTerm)}

	page, err := s.achievements.List(ctx, filter, cursor, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	total, err := s.achievements.Count(ctx, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, len(page.Items))
	for i, a := range page.Items {
		ids[i] = a.ID
	}
	counts, err := s.achievements.UnlockedCounts(ctx, ids)
	if err != nil {
		return nil, err
	}

	items := make([]achievement.ManagerView, len(page.Items))
	for i, a := range page.Items {
		items[i] = achievement.ManagerView{Achievement: a, UnlockedCount: counts[a.ID]}
	}

	return &ManagerPage{Items: items, NextCursor: page.NextCursor, Total: total}, nil
}

func (s *AchievementService) GetByID(ctx context.Context, id uuid.UUID) (*achievement.Achievement, error) {
	return s.achievements.GetByID(ctx, id)
}

func validateFields(fields *achievement.FormFields) error {
	fields.Name = strings.TrimSpace(fields.Name)
	if fields.Name == "" {
		return apperrors.BadRequest("name is required")
	}
	if fields.Points < 0 {
		return apperrors.BadRequest("points must not be negative")
	}
	if fields.Type == "" {
		fields.Type = achievement.TypeCustom
	}
	if !fields.Type.Valid() {
		return apperrors.BadRequest(fmt.Sprintf("unknown achievement type %q", fields.Type))
	}
	if fields.Key != nil {
		trimmed := strings.TrimSpace(*fields.Key)
		if trimmed == "" {
			fields.Key = nil
		} else {
			fields.Key = &trimmed
		}
	}
	return nil
}

func (s *AchievementService) Create(ctx context.Context, fields achievement.FormFields) (*achievement.Achievement, error) {
	if err := validateFields(&fields); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := &achievement.Achievement{
		ID: uuid.New(),
		// The secret id is the completion capability; a fresh random UUID
		// keeps it unguessable and non-sequential.
		SecretID:  uuid.NewString(),
		Key:       fields.Key,
		Name:      fields.Name,
		Hint:      fields.Hint,
		Points:    fields.Points,
		IsSecret:  fields.IsSecret,
		IsHidden:  fields.IsHidden,
		Type:      fields.Type,
		Emoji:     fields.Emoji,
		ImageURL:  fields.ImageURL,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.achievements.Create(ctx, a); err != nil {
		return nil, err
	}

	return a, nil
}

func (s *AchievementService) UpdateByID(ctx context.Context, id uuid.UUID, fields achievement.FormFields) (*achievement.Achievement, error) {
	if err := validateFields(&fields); err != nil {
		return nil, err
	}

	a := &achievement.Achievement{
		ID:        id,
		Key:       fields.Key,
		Name:      fields.Name,
		Hint:      fields.Hint,
		Points:    fields.Points,
		IsSecret:  fields.IsSecret,
		IsHidden:  fields.IsHidden,
		Type:      fields.Type,
		Emoji:     fields.Emoji,
		ImageURL:  fields.ImageURL,
		UpdatedAt: s.now().UTC(),
	}

	if err := s.achievements.Update(ctx, a); err != nil {
		return nil, err
	}

	return s.achievements.GetByID(ctx, id)
}

func (s *AchievementService) DeleteByID(ctx context.Context, id uuid.UUID) error {
	return s.achievements.Delete(ctx, id)
}

// GetAllWithCompletion lists non-hidden achievements for an end user, split
// into done and still-to-complete, redacted by the reveal policy. When the
// user has a linked GitHub account, locked GITHUB_STAR items they could
// claim right now carry their secret id; without a linked account the
// listing still works, just without that enrichment.
func (s *AchievementService) GetAllWithCompletion(ctx context.Context, userID string) (*CompletionListing, error) {
	unlocked, err := s.achievements.ListUnlockedByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	locked, err := s.achievements.ListLockedVisibleForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	total, err := s.achievements.CountVisible(ctx)
	if err != nil {
		return nil, err
	}

	listing := &CompletionListing{
		Dones:      []achievement.PublicView{},
		ToComplete: []achievement.PublicView{},
		Total:      total,
	}
	for _, a := range unlocked {
		if a.IsHidden {
			continue
		}
		listing.Dones = append(listing.Dones, a.Public(true))
	}

	token, err := s.identity.GetLinkedAccessToken(ctx, userID, identity.ProviderGithub)
	if err != nil {
		log.Printf("Skipping github claim enrichment: %v", err)
		token = ""
	}

	for _, a := range locked {
		view := a.Public(false)
		if token != "" && a.Type == achievement.TypeGithubStar && a.Key != nil {
			starred, err := s.github.IsStarred(ctx, *a.Key, token)
			if err != nil {
				log.Printf("Starred check failed for %s: %v", *a.Key, err)
			} else if starred {
				secretID := a.SecretID
				view.SecretID = &secretID
			}
		}
		listing.ToComplete = append(listing.ToComplete, view)
	}

	return listing, nil
}

// CheckSecretCode resolves a user-typed code to a completion capability. The
// empty code is a deliberate easter egg resolving to the reserved
// "empty-code" achievement. A code that matches a non-SECRET_CODE key
// answers not-found, indistinguishable from no match at all.
func (s *AchievementService) CheckSecretCode(ctx context.Context, rawCode string) (string, error) {
	code := strings.TrimSpace(rawCode)
	if code == "" {
		a, err := s.achievements.GetByKeyInsensitive(ctx, achievement.EmptyCodeKey)
		if err != nil {
			return "", err
		}
		return a.SecretID, nil
	}

	a, err := s.achievements.GetByKeyInsensitive(ctx, code)
	if err != nil {
		return "", err
	}
	if a.Type != achievement.TypeSecretCode {
		return "", apperrors.NotFound("achievement")
	}

	return a.SecretID, nil
}

// GetInAppSecret exchanges an IN_APP key for its secret id so the app can
// build a completion link for actions it observed itself.
func (s *AchievementService) GetInAppSecret(ctx context.Context, key string) (string, error) {
	a, err := s.achievements.GetByKey(ctx, key, achievement.TypeInApp)
	if err != nil {
		return "", err
	}
	return a.SecretID, nil
}

// CompleteBySecretID runs one completion attempt. An already-unlocked
// achievement returns immediately with no side effects, so revisiting a
// completion link never re-hits GitHub. GITHUB_STAR performs exactly one
// starred check; an ambiguous GitHub answer (timeout, 5xx) fails the attempt
// rather than unlocking.
func (s *AchievementService) CompleteBySecretID(ctx context.Context, secretID, userID string) (*achievement.CompletionResult, error) {
	if !s.eventEnd.IsZero() && s.now().After(s.eventEnd) {
		return nil, apperrors.BadRequest("the event has ended")
	}

	a, err := s.achievements.GetBySecretID(ctx, secretID)
	if err != nil {
		return nil, err
	}

	unlocked, err := s.unlocks.HasUnlocked(ctx, a.ID, userID)
	if err != nil {
		return nil, err
	}
	if unlocked {
		return &achievement.CompletionResult{Achievement: *a, AlreadyCompleted: true}, nil
	}

	switch a.Type {
	case achievement.TypeInApp, achievement.TypeCustom, achievement.TypeSecretCode:
		// Holding the secret id is the whole proof.
	case achievement.TypeGithubStar:
		if err := s.verifyGithubStar(ctx, a, userID); err != nil {
			return nil, err
		}
	default:
		return nil, apperrors.Internal("completion", fmt.Errorf("unhandled achievement type %q", a.Type))
	}

	// The caller may walk away mid-request; once verification passed the
	// ledger write still has to land, so it is detached from cancellation.
	created, err := s.unlocks.Unlock(context.WithoutCancel(ctx), a.ID, userID)
	if err != nil {
		return nil, err
	}
	if created {
		middleware.RecordUnlock(string(a.Type))
	}

	return &achievement.CompletionResult{Achievement: *a, AlreadyCompleted: !created}, nil
}

func (s *AchievementService) verifyGithubStar(ctx context.Context, a *achievement.Achievement, userID string) error {
	token, err := s.identity.GetLinkedAccessToken(ctx, userID, identity.ProviderGithub)
	if err != nil {
		return apperrors.Unavailable("identity provider", err)
	}
	if token == "" {
		return apperrors.BadRequest("no linked GitHub account")
	}
	if a.Key == nil {
		return apperrors.Internal("github verification", errors.New("achievement has no repository key"))
	}

	starred, err := s.github.IsStarred(ctx, *a.Key, token)
	if err != nil {
		return apperrors.Unavailable("github", err)
	}
	if !starred {
		return apperrors.Forbidden("repository is not starred")
	}

	return nil
}

// GetGithubAchievementsToClaim lists the GITHUB_STAR achievements the user
// has starred but not completed yet. A nil slice means no linked GitHub
// account.
func (s *AchievementService) GetGithubAchievementsToClaim(ctx context.Context, userID string) ([]achievement.GithubClaim, error) {
	token, err := s.identity.GetLinkedAccessToken(ctx, userID, identity.ProviderGithub)
	if err != nil {
		return nil, apperrors.Unavailable("identity provider", err)
	}
	if token == "" {
		return nil, nil
	}

	candidates, err := s.achievements.ListGithubNotUnlocked(ctx, userID)
	if err != nil {
		return nil, err
	}

	claims := []achievement.GithubClaim{}
	for _, a := range candidates {
		if a.Key == nil {
			continue
		}
		starred, err := s.github.IsStarred(ctx, *a.Key, token)
		if err != nil {
			log.Printf("Starred check failed for %s: %v", *a.Key, err)
			continue
		}
		if starred {
			claims = append(claims, achievement.GithubClaim{Achievement: a, Repository: *a.Key})
		}
	}

	return claims, nil
}

func (s *AchievementService) GetLeaderboard(ctx context.Context, limit int) (*leaderboard.Leaderboard, error) {
	if limit <= 0 || limit > defaultLeaderboardLimit {
		limit = defaultLeaderboardLimit
	}
	return s.unlocks.Leaderboard(ctx, limit)
}
