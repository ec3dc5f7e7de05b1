package model

import "time"

// Generation is the persisted record of one delivered artifact.
type Generation struct {
	ID           int64     `json:"-"`
	GenerationID string    `json:"generation_id"`
	AccountID    string    `json:"account_id"`
	Kind         JobKind   `json:"kind"`
	Prompt       string    `json:"prompt"`
	Model        string    `json:"model"`
	Cost         int64     `json:"cost"`
	ResultText   string    `json:"result_text,omitempty"`
	// ImageData holds the artifact as base64, matching how the web surface
	// reads generations back out.
	ImageData string    `json:"image_data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
