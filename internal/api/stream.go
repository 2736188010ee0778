package api

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"

	"scene-studio/internal/models"
	"scene-studio/internal/queue"
)

var errNotOwned = errors.New("not owned by caller")

// contextWithClientClose cancels when the websocket peer goes away.
// The read loop also services control frames.
func contextWithClientClose(parent context.Context, conn *websocket.Conn) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return ctx, cancel
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func progressOf(p models.Production) queue.ProgressEvent {
	return queue.ProgressEvent{
		ProductionID: p.ID,
		Status:       p.Status,
		Completed:    p.CompletedCount,
		Total:        p.TotalCount,
		ProjectID:    p.ProjectID,
		Error:        p.Error,
	}
}
