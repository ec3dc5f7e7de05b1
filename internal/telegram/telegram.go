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

// Package telegram is the delivery-channel client. Every method is safe to
// call against an already-deleted or unreachable target; callers decide
// whether to swallow the returned error. Rate-limit responses are surfaced
// as ErrRateLimited so the status presenter can stop animating instead of
// compounding the throttling.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/internal/request"
)

// ErrRateLimited is returned when the delivery channel answers 429.
var ErrRateLimited = errors.New("telegram: rate limited")

type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

func NewClient(cnf *config.TelegramConfig) *Client {
	return &Client{
		token:      cnf.Token,
		baseURL:    strings.TrimRight(cnf.BaseUrl, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiResponse struct {
	Ok          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}

type message struct {
	MessageID int64 `json:"message_id"`
}

type file struct {
	FilePath string `json:"file_path"`
}

// Update is one inbound event from the long-poll subscription.
type Update struct {
	UpdateID int64           `json:"update_id"`
	Message  *InboundMessage `json:"message,omitempty"`
}

// InboundMessage carries the fields the pipeline reads from a user
// message.
type InboundMessage struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	From struct {
		ID       int64  `json:"id"`
		Username string `json:"username,omitempty"`
	} `json:"from"`
	Photo []PhotoSize `json:"photo,omitempty"`
}

// PhotoSize is one resolution variant of an inbound photo. The last entry
// is the largest.
type PhotoSize struct {
	FileID string `json:"file_id"`
}

// LargestPhoto returns the file id of the best-resolution variant, empty
// when the message carries no photo.
func (m *InboundMessage) LargestPhoto() string {
	if len(m.Photo) == 0 {
		return ""
	}
	return m.Photo[len(m.Photo)-1].FileID
}

// SendMessage posts a text message and returns the new message id.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, replyTo int64) (int64, error) {
	body := map[string]interface{}{"chat_id": chatID, "text": text}
	if replyTo != 0 {
		body["reply_to_message_id"] = replyTo
	}
	var msg message
	if err := c.call(ctx, "sendMessage", body, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// SendPhoto uploads image bytes as a photo message and returns the new
// message id.
func (c *Client) SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string, replyTo int64) (int64, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return 0, err
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return 0, err
		}
	}
	if replyTo != 0 {
		if err := writer.WriteField("reply_to_message_id", fmt.Sprintf("%d", replyTo)); err != nil {
			return 0, err
		}
	}
	part, err := writer.CreateFormFile("photo", "image.png")
	if err != nil {
		return 0, err
	}
	if _, err := part.Write(photo); err != nil {
		return 0, err
	}
	if err := writer.Close(); err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL("sendPhoto"), &buf)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	var msg message
	if err := c.do(req, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

// EditMessageText replaces the text of a previously sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string) error {
	body := map[string]interface{}{"chat_id": chatID, "message_id": messageID, "text": text}
	return c.call(ctx, "editMessageText", body, nil)
}

// DeleteMessage removes a message. Deleting an already-deleted message
// returns an error the caller is expected to swallow.
func (c *Client) DeleteMessage(ctx context.Context, chatID, messageID int64) error {
	body := map[string]interface{}{"chat_id": chatID, "message_id": messageID}
	return c.call(ctx, "deleteMessage", body, nil)
}

// DownloadFile fetches the raw bytes of a chat file by its file id.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var f file
	if err := c.call(ctx, "getFile", map[string]interface{}{"file_id": fileID}, &f); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, f.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: file download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// GetUpdates long-polls for inbound events past the given offset. The
// request blocks server-side for up to timeout seconds; the HTTP client
// allows for that on top of its own limit.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	body := map[string]interface{}{
		"offset":          offset,
		"timeout":         timeout,
		"allowed_updates": []string{"message"},
	}
	var updates []Update
	if err := c.call(ctx, "getUpdates", body, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

func (c *Client) call(ctx context.Context, method string, body interface{}, result interface{}) error {
	payload, err := request.ToJsonReq(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return err
	}
	if resp.StatusCode == http.StatusTooManyRequests || apiResp.ErrorCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if !apiResp.Ok {
		return fmt.Errorf("telegram: %s failed: %s", req.URL.Path, apiResp.Description)
	}
	if result != nil && len(apiResp.Result) > 0 {
		return json.Unmarshal(apiResp.Result, result)
	}
	return nil
}
