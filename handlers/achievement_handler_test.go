package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starQuestAPI/internal/achievement"
	"starQuestAPI/middleware"
	"starQuestAPI/repository"
	"starQuestAPI/services"
)

type stubIdentity struct {
	token string
}

func (s *stubIdentity) GetLinkedAccessToken(_ context.Context, _, _ string) (string, error) {
	return s.token, nil
}

type stubStarChecker struct {
	starred map[string]bool
}

func (s *stubStarChecker) IsStarred(_ context.Context, repo, _ string) (bool, error) {
	return s.starred[repo], nil
}

type testEnv struct {
	store    *repository.MemoryStore
	identity *stubIdentity
	stars    *stubStarChecker
	service  *services.AchievementService
	router   *mux.Router
}

// authed mimics the auth middleware by stamping a fixed user id onto the
// request, the way the upstream JWT verification would.
func authed(userID string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), middleware.UserIDKey, userID)
		h(w, r.WithContext(ctx))
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := repository.NewMemoryStore()
	id := &stubIdentity{}
	stars := &stubStarChecker{starred: map[string]bool{}}
	service := services.NewAchievementService(store, store, id, stars, time.Time{})

	achievementHandler := NewAchievementHandler(service)
	managerHandler := NewManagerHandler(service)

	router := mux.NewRouter()
	router.HandleFunc("/api/v1/achievements", authed("user-1", achievementHandler.GetAllWithCompletion)).Methods("GET")
	router.HandleFunc("/api/v1/achievements/secret-code/check", authed("user-1", achievementHandler.CheckSecretCode)).Methods("POST")
	router.HandleFunc("/api/v1/achievements/{secretId}/complete", authed("user-1", achievementHandler.CompleteBySecretID)).Methods("POST")
	router.HandleFunc("/api/v1/account/github-stars", authed("user-1", achievementHandler.GetGithubAchievementsToClaim)).Methods("GET")
	router.HandleFunc("/api/v1/manager/achievements", managerHandler.GetAll).Methods("GET")
	router.HandleFunc("/api/v1/manager/achievements", managerHandler.Create).Methods("POST")
	router.HandleFunc("/api/v1/manager/achievements/{id}", managerHandler.GetByID).Methods("GET")
	router.HandleFunc("/api/v1/manager/achievements/{id}", managerHandler.UpdateByID).Methods("PUT")
	router.HandleFunc("/api/v1/manager/achievements/{id}", managerHandler.DeleteByID).Methods("DELETE")

	return &testEnv{store: store, identity: id, stars: stars, service: service, router: router}
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	return rr
}

func TestCompleteEndpoint(t *testing.T) {
	env := newTestEnv(t)

	a, err := env.service.Create(context.Background(), achievement.FormFields{Name: "Welcome", Points: 50})
	require.NoError(t, err)

	rr := env.do(t, http.MethodPost, "/api/v1/achievements/"+a.SecretID+"/complete", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var result achievement.CompletionResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.False(t, result.AlreadyCompleted)
	assert.Equal(t, a.ID, result.Achievement.ID)

	rr = env.do(t, http.MethodPost, "/api/v1/achievements/"+a.SecretID+"/complete", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &result))
	assert.True(t, result.AlreadyCompleted)
}

func TestCompleteEndpointNotFound(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/v1/achievements/bogus-secret/complete", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "NOT_FOUND")
}

func TestCompleteEndpointGithubStatuses(t *testing.T) {
	env := newTestEnv(t)

	key := "acme/widgets"
	a, err := env.service.Create(context.Background(), achievement.FormFields{
		Name:   "Star Us",
		Points: 100,
		Type:   achievement.TypeGithubStar,
		Key:    &key,
	})
	require.NoError(t, err)

	rr := env.do(t, http.MethodPost, "/api/v1/achievements/"+a.SecretID+"/complete", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code, "no linked github account")

	env.identity.token = "gh-token"
	rr = env.do(t, http.MethodPost, "/api/v1/achievements/"+a.SecretID+"/complete", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code, "not starred")

	env.stars.starred[key] = true
	rr = env.do(t, http.MethodPost, "/api/v1/achievements/"+a.SecretID+"/complete", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCheckSecretCodeEndpoint(t *testing.T) {
	env := newTestEnv(t)

	key := "xyzzy"
	a, err := env.service.Create(context.Background(), achievement.FormFields{
		Name:   "Magic Word",
		Points: 20,
		Type:   achievement.TypeSecretCode,
		Key:    &key,
	})
	require.NoError(t, err)

	rr := env.do(t, http.MethodPost, "/api/v1/achievements/secret-code/check", map[string]string{"secret_code": "XYZZY"})
	require.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, a.SecretID, resp["secret_id"])

	rr = env.do(t, http.MethodPost, "/api/v1/achievements/secret-code/check", map[string]string{"secret_code": "wrong"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetAllWithCompletionEndpointRedacts(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.service.Create(context.Background(), achievement.FormFields{Name: "Shh", Points: 40, IsSecret: true})
	require.NoError(t, err)

	rr := env.do(t, http.MethodGet, "/api/v1/achievements", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var listing services.CompletionListing
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &listing))
	require.Len(t, listing.ToComplete, 1)
	assert.Equal(t, achievement.SecretNamePlaceholder, listing.ToComplete[0].Name)
	assert.NotContains(t, rr.Body.String(), "Shh")
}

func TestGithubStarsEndpointNullWithoutLink(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodGet, "/api/v1/account/github-stars", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "null", rr.Body.String())
}

func TestManagerCreateConflict(t *testing.T) {
	env := newTestEnv(t)

	fields := achievement.FormFields{Name: "Unique", Points: 10}
	rr := env.do(t, http.MethodPost, "/api/v1/manager/achievements", fields)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = env.do(t, http.MethodPost, "/api/v1/manager/achievements", fields)
	require.Equal(t, http.StatusConflict, rr.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "name", resp["field"])
}

func TestManagerCRUD(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/v1/manager/achievements", achievement.FormFields{Name: "Lifecycle", Points: 10})
	require.Equal(t, http.StatusCreated, rr.Code)

	var created achievement.Achievement
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))

	rr = env.do(t, http.MethodGet, "/api/v1/manager/achievements/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), created.SecretID, "operator read includes the secret id")

	rr = env.do(t, http.MethodGet, "/api/v1/manager/achievements/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodPut, "/api/v1/manager/achievements/"+created.ID.String(), achievement.FormFields{Name: "Renamed", Points: 15})
	require.Equal(t, http.StatusOK, rr.Code)

	var updated achievement.Achievement
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, "Renamed", updated.Name)
	assert.Equal(t, 15, updated.Points)

	rr = env.do(t, http.MethodDelete, "/api/v1/manager/achievements/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/manager/achievements/"+created.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestManagerListPagination(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 5; i++ {
		rr := env.do(t, http.MethodPost, "/api/v1/manager/achievements", achievement.FormFields{
			Name:   fmt.Sprintf("Achievement %d", i),
			Points: 10 * i,
		})
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	rr := env.do(t, http.MethodGet, "/api/v1/manager/achievements?limit=3", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var page1 services.ManagerPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page1))
	assert.Len(t, page1.Items, 3)
	assert.Equal(t, 5, page1.Total)
	require.NotNil(t, page1.NextCursor)

	rr = env.do(t, http.MethodGet, "/api/v1/manager/achievements?limit=3&cursor="+page1.NextCursor.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var page2 services.ManagerPage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page2))
	assert.Len(t, page2.Items, 2)
	assert.Nil(t, page2.NextCursor)

	seen := map[string]bool{}
	for _, item := range append(page1.Items, page2.Items...) {
		assert.False(t, seen[item.ID.String()], "no item may repeat across pages")
		seen[item.ID.String()] = true
	}
}
