/*
Copyright 2025 Paintbox Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package paintbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/paintbox-ai/paintbox/config"
)

// Awaiting states for multi-step conversational flows.
const (
	AwaitingNothing      = ""
	AwaitingEmail        = "email"
	AwaitingEditPrompt   = "edit-prompt"
	AwaitingReferralCode = "referral-code"
)

// SessionState is the small tagged per-conversation state. It is
// ephemeral and never financial: losing it to TTL expiry degrades UX
// only.
type SessionState struct {
	Awaiting string            `json:"awaiting"`
	Data     map[string]string `json:"data,omitempty"`
}

// SessionStore keeps per-conversation state in Redis with a TTL,
// independent of the relational database. Callers treat errors as
// degraded UX and log them; session loss must never block the pipeline.
type SessionStore struct {
	client redis.UniversalClient
}

// NewSessionStore wraps the given Redis client.
func NewSessionStore(client redis.UniversalClient) *SessionStore {
	return &SessionStore{client: client}
}

func stateKey(chatID int64) string {
	return fmt.Sprintf("state:%d", chatID)
}

func transientKey(chatID int64) string {
	return fmt.Sprintf("transient:%d", chatID)
}

// SetState stores the awaiting-input state for a conversation,
// overwriting any previous state.
func (s *SessionStore) SetState(ctx context.Context, chatID int64, state *SessionState) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, stateKey(chatID), payload, cfg.SessionTTL()).Err()
}

// GetState returns the current state, or an empty state when none is set
// or the previous one expired.
func (s *SessionStore) GetState(ctx context.Context, chatID int64) (*SessionState, error) {
	raw, err := s.client.Get(ctx, stateKey(chatID)).Result()
	if err == redis.Nil {
		return &SessionState{}, nil
	}
	if err != nil {
		return nil, err
	}
	var state SessionState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		// A corrupt state entry is dropped rather than wedging the
		// conversation.
		return &SessionState{}, nil
	}
	return &state, nil
}

// ClearState removes the awaiting-input state.
func (s *SessionStore) ClearState(ctx context.Context, chatID int64) error {
	return s.client.Del(ctx, stateKey(chatID)).Err()
}

// AppendTransient records a message id pending deletion, refreshing the
// list's TTL.
func (s *SessionStore) AppendTransient(ctx context.Context, chatID, messageID int64) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, transientKey(chatID), strconv.FormatInt(messageID, 10))
	pipe.Expire(ctx, transientKey(chatID), cfg.SessionTTL())
	_, err = pipe.Exec(ctx)
	return err
}

// PopAllTransient atomically drains the pending-deletion list and returns
// the message ids. Callers delete each one best-effort.
func (s *SessionStore) PopAllTransient(ctx context.Context, chatID int64) ([]int64, error) {
	pipe := s.client.TxPipeline()
	listCmd := pipe.LRange(ctx, transientKey(chatID), 0, -1)
	pipe.Del(ctx, transientKey(chatID))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	raw, err := listCmd.Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(raw))
	for _, entry := range raw {
		id, err := strconv.ParseInt(entry, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}
