package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"scene-studio/internal/config"
	"scene-studio/internal/models"
)

type issueKeyRequest struct {
	LimitMinutes int `json:"limitMinutes" validate:"omitempty,min=1,max=100000"`
}

func (s *Server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.Gate.ListKeys(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if keys == nil {
		keys = []models.QuotaAccount{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": keys})
}

func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request) {
	var req issueKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := config.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.LimitMinutes == 0 {
		req.LimitMinutes = s.Config.DefaultKeyMinutes
	}
	acct, err := s.Gate.IssueKey(r.Context(), userID(r), req.LimitMinutes)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acct)
}

func (s *Server) handleBanKey(w http.ResponseWriter, r *http.Request) {
	if err := s.Gate.BanKey(r.Context(), chi.URLParam(r, "key")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "banned"})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.Gate.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (s *Server) handlePromote(w http.ResponseWriter, r *http.Request) {
	u, err := s.Gate.Promote(r.Context(), chi.URLParam(r, "uid"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

type settingsRequest struct {
	AppName     string `json:"appName" validate:"required,max=64"`
	AccentColor string `json:"accentColor" validate:"required,hexcolor"`
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := config.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st := models.Settings{AppName: req.AppName, AccentColor: req.AccentColor}
	if err := s.Store.SaveSettings(r.Context(), st); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.Store.GetSettings(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleStyles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"styles":       s.Styles,
		"aspectRatios": config.AspectRatios,
		"voices":       config.Voices,
		"transitions":  models.Transitions,
	})
}

// handleQueueStatus reports the ready depth and productions abandoned by dead workers.
func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	depth, err := s.Queue.ReadyDepth(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	dead, err := s.Queue.DeadLetters(r.Context(), 100)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if dead == nil {
		dead = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": depth, "deadLetters": dead})
}
