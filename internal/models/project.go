package models

import "time"

// Transitions cycle across scenes in this order.
var Transitions = []string{"fade", "slide", "zoom", "blur", "glitch"}

// Project is a finished (fully or partially) production owned by one user.
type Project struct {
	ID                   string         `json:"id"`
	OwnerID              string         `json:"ownerId"`
	Title                string         `json:"title"`
	Items                []ProducedItem `json:"items"`
	Mode                 string         `json:"mode"`
	AspectRatio          string         `json:"aspectRatio"`
	StyleID              string         `json:"styleId"`
	VoiceID              string         `json:"voiceId,omitempty"`
	CoverRef             string         `json:"coverRef,omitempty"`
	DefaultTransition    string         `json:"defaultTransition"`
	TotalDurationSeconds float64        `json:"totalDurationSeconds"`
	CreatedAt            time.Time      `json:"createdAt"`
}
