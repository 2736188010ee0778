package models

import (
	"time"
)

// ProductionStatus enumerates lifecycle states of a production job.
const (
	ProductionQueued    = "queued"
	ProductionRunning   = "running"
	ProductionCompleted = "completed"
	ProductionFailed    = "failed"
)

// ProductionRequest is the payload a client submits to start a production.
type ProductionRequest struct {
	Text        string `json:"text"`
	Title       string `json:"title,omitempty"`
	AspectRatio string `json:"aspectRatio,omitempty"`
	StyleID     string `json:"styleId,omitempty"`
	VoiceID     string `json:"voiceId,omitempty"`
	Mode        string `json:"mode,omitempty"`
	Silent      bool   `json:"silent,omitempty"`
	Concurrency int    `json:"concurrencyLimit,omitempty"`
}

// Production is the persisted record of one queued or running production.
type Production struct {
	ID             string            `json:"id"`
	OwnerID        string            `json:"ownerId"`
	AccessKey      string            `json:"-"`
	Request        ProductionRequest `json:"request"`
	Status         string            `json:"status"`
	CompletedCount int               `json:"completedCount"`
	TotalCount     int               `json:"totalCount"`
	ProjectID      string            `json:"projectId,omitempty"`
	Error          string            `json:"error,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Terminal reports whether the production reached a final state.
func (p Production) Terminal() bool {
	return p.Status == ProductionCompleted || p.Status == ProductionFailed
}
