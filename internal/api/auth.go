package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"scene-studio/internal/config"
	"scene-studio/internal/models"
)

type validateRequest struct {
	Key string `json:"key" validate:"required"`
}

type keyStatus struct {
	Key       string `json:"key"`
	MaxUnits  int64  `json:"maxUnits"`
	UsedUnits int64  `json:"usedUnits"`
	Remaining int64  `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
	Banned    bool   `json:"banned"`
}

func statusOf(a models.QuotaAccount) keyStatus {
	return keyStatus{
		Key:       a.Key,
		MaxUnits:  a.MaxUnits,
		UsedUnits: a.UsedUnits,
		Remaining: a.Remaining(),
		Unlimited: a.Unlimited,
		Banned:    a.Banned,
	}
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := config.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acct, err := s.Gate.Authorize(r.Context(), req.Key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusOf(acct))
}

type registerRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"required,email"`
	Key   string `json:"key" validate:"required"`
}

// registeredUser is the register response. The credential stays out of it.
type registeredUser struct {
	UID      string    `json:"uid"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Role     string    `json:"role"`
	Status   string    `json:"status"`
	JoinedAt time.Time `json:"joinedAt"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := config.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, err := s.Gate.Register(r.Context(), req.Name, req.Email, req.Key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, registeredUser{
		UID:      u.UID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     u.Role,
		Status:   u.Status,
		JoinedAt: u.JoinedAt,
	})
}

// handleWatchKey streams the caller's key status over a websocket whenever the ledger
// reports a change to it, so open sessions notice bans and spending right away.
func (s *Server) handleWatchKey(w http.ResponseWriter, r *http.Request) {
	key := accessKey(r)
	if _, err := s.Ledger.Get(r.Context(), key); err != nil {
		s.fail(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := contextWithClientClose(r.Context(), conn)
	defer cancel()
	changes := s.Ledger.Changes(ctx)

	send := func() bool {
		acct, err := s.Ledger.Get(ctx, key)
		if err != nil {
			return false
		}
		return conn.WriteJSON(statusOf(acct)) == nil
	}
	if !send() {
		return
	}
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		case changed, ok := <-changes:
			if !ok {
				return
			}
			if changed == key && !send() {
				return
			}
		}
	}
}
