package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"starQuestAPI/internal/apperrors"
	"starQuestAPI/middleware"
	"starQuestAPI/services"
)

type AchievementHandler struct {
	service *services.AchievementService
}

func NewAchievementHandler(service *services.AchievementService) *AchievementHandler {
	return &AchievementHandler{
		service: service,
	}
}

func (h *AchievementHandler) GetAllWithCompletion(w http.ResponseWriter, r *http.Request) {
	// Wide enough for the per-repository starred checks behind the listing.
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	listing, err := h.service.GetAllWithCompletion(ctx, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, listing)
}

func (h *AchievementHandler) CheckSecretCode(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var req struct {
		SecretCode string `json:"secret_code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	secretID, err := h.service.CheckSecretCode(ctx, req.SecretCode)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"secret_id": secretID})
}

func (h *AchievementHandler) GetInAppSecret(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	key := r.URL.Query().Get("key")
	if key == "" {
		respondWithError(w, http.StatusBadRequest, "key is required")
		return
	}

	secretID, err := h.service.GetInAppSecret(ctx, key)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"secret_id": secretID})
}

func (h *AchievementHandler) CompleteBySecretID(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	secretID := mux.Vars(r)["secretId"]

	result, err := h.service.CompleteBySecretID(ctx, secretID, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

func (h *AchievementHandler) GetGithubAchievementsToClaim(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	claims, err := h.service.GetGithubAchievementsToClaim(ctx, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}
	if claims == nil {
		// No linked GitHub account renders as an explicit null, not [].
		respondWithJSON(w, http.StatusOK, nil)
		return
	}

	respondWithJSON(w, http.StatusOK, claims)
}

func (h *AchievementHandler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	board, err := h.service.GetLeaderboard(ctx, parseIntParam(r, "limit"))
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, board)
}

func parseIntParam(r *http.Request, name string) int {
	value, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return value
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": "Internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithServiceError translates typed service errors into their HTTP
// shape. Untyped errors stay opaque to the caller.
func respondWithServiceError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		log.Printf("Unhandled service error: %v", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if appErr.Code == apperrors.CodeInternal || appErr.Code == apperrors.CodeUnavailable {
		log.Printf("Service error: %v", appErr)
	}

	payload := map[string]string{
		"error": appErr.Message,
		"code":  appErr.Code,
	}
	if appErr.Field != "" {
		payload["field"] = appErr.Field
	}
	respondWithJSON(w, apperrors.HTTPStatus(appErr), payload)
}
