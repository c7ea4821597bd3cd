package achievement

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeGithubStar Type = "GITHUB_STAR"
	TypeSecretCode Type = "SECRET_CODE"
	TypeInApp      Type = "IN_APP"
	TypeCustom     Type = "CUSTOM"
)

// EmptyCodeKey is the reserved key of the easter-egg achievement granted when
// a user submits a blank secret code.
const EmptyCodeKey = "empty-code"

// SecretNamePlaceholder replaces the name of a locked secret achievement.
const SecretNamePlaceholder = "???"

func (t Type) Valid() bool {
	switch t {
	case TypeGithubStar, TypeSecretCode, TypeInApp, TypeCustom:
		return true
	}
	return false
}

type Achievement struct {
	ID       uuid.UUID `json:"id" db:"id"`
	SecretID string    `json:"secret_id" db:"secret_id"`
	// Key is type-scoped: an owner/repo slug for GITHUB_STAR, the phrase a user
	// types for SECRET_CODE, an internal tag for IN_APP, unused for CUSTOM.
	Key       *string   `json:"key,omitempty" db:"key"`
	Name      string    `json:"name" db:"name"`
	Hint      *string   `json:"hint,omitempty" db:"hint"`
	Points    int       `json:"points" db:"points"`
	IsSecret  bool      `json:"is_secret" db:"is_secret"`
	IsHidden  bool      `json:"is_hidden" db:"is_hidden"`
	Type      Type      `json:"type" db:"type"`
	Emoji     *string   `json:"emoji,omitempty" db:"emoji"`
	ImageURL  *string   `json:"image_url,omitempty" db:"image_url"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// FormFields is the operator create/update payload.
type FormFields struct {
	Name     string  `json:"name"`
	Hint     *string `json:"hint,omitempty"`
	Points   int     `json:"points"`
	IsSecret bool    `json:"is_secret"`
	IsHidden bool    `json:"is_hidden"`
	Type     Type    `json:"type"`
	Emoji    *string `json:"emoji,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
	Key      *string `json:"key,omitempty"`
}

// ManagerView is the operator listing item. Nothing is redacted here.
type ManagerView struct {
	Achievement
	UnlockedCount int `json:"unlocked_count"`
}

// PublicView is the app-facing projection of an achievement.
type PublicView struct {
	ID        uuid.UUID `json:"id"`
	Key       *string   `json:"key,omitempty"`
	Name      string    `json:"name"`
	Hint      *string   `json:"hint,omitempty"`
	Points    int       `json:"points"`
	IsSecret  bool      `json:"is_secret"`
	Type      Type      `json:"type"`
	Emoji     *string   `json:"emoji,omitempty"`
	ImageURL  *string   `json:"image_url,omitempty"`
	Completed bool      `json:"completed"`
	// SecretID is only populated on locked GITHUB_STAR items the caller can
	// claim right now.
	SecretID *string `json:"secret_id,omitempty"`
}

// Public projects an achievement for an end user. A secret achievement keeps
// its name, points, hint and key to itself until the viewer has unlocked it.
// The repository key is only ever exposed for non-secret GITHUB_STAR items,
// so a locked secret star achievement cannot leak its target repository.
func (a Achievement) Public(unlocked bool) PublicView {
	v := PublicView{
		ID:        a.ID,
		Name:      a.Name,
		Hint:      a.Hint,
		Points:    a.Points,
		IsSecret:  a.IsSecret,
		Type:      a.Type,
		Emoji:     a.Emoji,
		ImageURL:  a.ImageURL,
		Completed: unlocked,
	}
	if a.Type == TypeGithubStar && !a.IsSecret {
		v.Key = a.Key
	}
	if a.IsSecret && !unlocked {
		v.Name = SecretNamePlaceholder
		v.Points = 0
		v.Hint = nil
		v.Key = nil
	}
	return v
}

// Unlocked is the ledger fact that a user satisfied an achievement. The
// (achievement, user) pair is unique; the row is written once, never updated.
type Unlocked struct {
	AchievementID uuid.UUID `json:"achievement_id" db:"achievement_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	UnlockedAt    time.Time `json:"unlocked_at" db:"unlocked_at"`
}

// CompletionResult is returned by the completion flow. AlreadyCompleted is
// true when the ledger fact predates this call.
type CompletionResult struct {
	Achievement      Achievement `json:"achievement"`
	AlreadyCompleted bool        `json:"already_completed"`
}

// GithubClaim pairs a claimable GITHUB_STAR achievement with its repository
// slug.
type GithubClaim struct {
	Achievement Achievement `json:"achievement"`
	Repository  string      `json:"repository"`
}
