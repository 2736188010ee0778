package api

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"scene-studio/internal/config"
	"scene-studio/internal/models"
	"scene-studio/internal/studio"
	"scene-studio/internal/telemetry"
)

type submitRequest struct {
	Text        string `json:"text" validate:"required_without=Title,max=50000"`
	Title       string `json:"title" validate:"max=200"`
	AspectRatio string `json:"aspectRatio"`
	StyleID     string `json:"styleId"`
	VoiceID     string `json:"voiceId"`
	Mode        string `json:"mode"`
	Silent      bool   `json:"silent"`
	Concurrency int    `json:"concurrencyLimit"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.Config.GeminiAPIKey == "" {
		s.fail(w, r, studio.ErrMissingAPIKey)
		return
	}
	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	req.Title = strings.TrimSpace(req.Title)
	if err := config.Validate(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := config.NewProductionOptions(config.ProductionOptions{
		AspectRatio:      req.AspectRatio,
		StyleID:          req.StyleID,
		VoiceID:          req.VoiceID,
		ConcurrencyLimit: req.Concurrency,
		Mode:             req.Mode,
		Silent:           req.Silent,
	}, s.Styles); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	uid := userID(r)
	key := accessKey(r)
	if _, err := s.Gate.Authorize(r.Context(), key); err != nil {
		s.fail(w, r, err)
		return
	}

	if s.Limiter != nil {
		d, err := s.Limiter.Allow(r.Context(), uid)
		if err != nil {
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !d.Allowed {
			telemetry.RateLimitRejects.Inc()
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(d.RetryAfter.Seconds()))))
			writeError(w, http.StatusTooManyRequests, "rate limited")
			return
		}
	}

	now := time.Now().UTC()
	prod := models.Production{
		ID:        uuid.NewString(),
		OwnerID:   uid,
		AccessKey: key,
		Request: models.ProductionRequest{
			Text:        req.Text,
			Title:       req.Title,
			AspectRatio: req.AspectRatio,
			StyleID:     req.StyleID,
			VoiceID:     req.VoiceID,
			Mode:        req.Mode,
			Silent:      req.Silent,
			Concurrency: req.Concurrency,
		},
		Status:    models.ProductionQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Store.CreateProduction(r.Context(), prod); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Queue.Enqueue(r.Context(), prod.ID); err != nil {
		prod.Status = models.ProductionFailed
		prod.Error = "enqueue failed"
		_ = s.Store.UpdateProduction(r.Context(), prod)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	telemetry.ProductionsEnqueued.Inc()
	s.Log.WithFields(logrus.Fields{"production": prod.ID, "owner": uid}).Info("production enqueued")
	writeJSON(w, http.StatusAccepted, prod)
}

func (s *Server) ownedProduction(r *http.Request) (models.Production, error) {
	prod, err := s.Store.GetProduction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return models.Production{}, err
	}
	if prod.OwnerID != userID(r) {
		return models.Production{}, fmt.Errorf("production %s: %w", prod.ID, errNotOwned)
	}
	return prod, nil
}

func (s *Server) handleGetProduction(w http.ResponseWriter, r *http.Request) {
	prod, err := s.ownedProduction(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prod)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleProductionStream pushes progress events until the production is terminal.
func (s *Server) handleProductionStream(w http.ResponseWriter, r *http.Request) {
	prod, err := s.ownedProduction(r)
	if err != nil {
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

	events, err := s.Queue.SubscribeProgress(ctx, prod.ID)
	if err != nil {
		_ = conn.WriteJSON(map[string]string{"error": "progress unavailable"})
		return
	}
	// re-read after subscribing so no transition is missed in between
	if cur, err := s.Store.GetProduction(ctx, prod.ID); err == nil {
		prod = cur
	}
	if err := conn.WriteJSON(progressOf(prod)); err != nil || prod.Terminal() {
		closeNormal(conn)
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
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Status == models.ProductionCompleted || ev.Status == models.ProductionFailed {
				closeNormal(conn)
				return
			}
		}
	}
}
