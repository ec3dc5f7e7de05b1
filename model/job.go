package model

import (
	"encoding/json"
	"time"
)

// JobKind names one generation capability carried by the queue. Each kind
// maps to its own asynq task type.
type JobKind string

const (
	JobGenerateImage JobKind = "generate-image"
	JobEditImage     JobKind = "edit-image"
	JobGenerateText  JobKind = "generate-text"
)

// GenerationJob is one unit of queued work. A job is immutable once
// enqueued; model fallback happens inside a single execution, never by
// re-enqueueing a mutated copy.
type GenerationJob struct {
	JobID     string  `json:"job_id"`
	Kind      JobKind `json:"kind"`
	ChatID    int64   `json:"chat_id"`
	AccountID string  `json:"account_id"`
	Prompt    string  `json:"prompt"`
	// SourceFileID references the chat file to edit. Empty for pure
	// generation jobs.
	SourceFileID     string    `json:"source_file_id,omitempty"`
	ReplyToMessageID int64     `json:"reply_to_message_id,omitempty"`
	StatusMessageID  int64     `json:"status_message_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewGenerationJob builds a job with a fresh job id.
func NewGenerationJob(kind JobKind, chatID int64, accountID, prompt string) *GenerationJob {
	return &GenerationJob{
		JobID:     GenerateUUIDWithSuffix("job"),
		Kind:      kind,
		ChatID:    chatID,
		AccountID: accountID,
		Prompt:    prompt,
		CreatedAt: time.Now(),
	}
}

func (job *GenerationJob) ToJSON() ([]byte, error) {
	return json.Marshal(job)
}
