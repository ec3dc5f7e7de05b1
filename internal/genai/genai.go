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

// Package genai is the client for the remote generation backend. It speaks
// the two transport shapes the backend exposes (inline generateContent and
// batch predict), classifies every failure into the fallback taxonomy, and
// performs no retries of its own.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/internal/request"
	"github.com/paintbox-ai/paintbox/model"
)

// Payload is the input for one backend call. SourceImage is set only for
// edit and describe calls.
type Payload struct {
	Prompt      string
	SourceImage []byte
	SourceMime  string
}

// Output is the successful result of one backend call. CostEstimate is a
// best-effort size-derived figure, not a billing-grade token count.
type Output struct {
	Data         []byte
	MimeType     string
	Text         string
	Model        string
	CostEstimate int64
}

// HasArtifact reports whether the output carries image bytes.
func (o *Output) HasArtifact() bool {
	return len(o.Data) > 0
}

// Invoker is the single-call contract the fallback resolver drives. One
// Invoke means exactly one outbound call.
type Invoker interface {
	Invoke(ctx context.Context, candidate model.ModelCandidate, payload Payload) (*Output, error)
}

// Client talks to the generation backend over HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a backend client from configuration. The HTTP timeout
// bounds every call; a timeout is classified as a transport failure.
func NewClient(cnf *config.GenAIConfig) *Client {
	return &Client{
		apiKey:  cnf.ApiKey,
		baseURL: strings.TrimRight(cnf.BaseUrl, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(cnf.TimeoutSeconds) * time.Second,
		},
	}
}

// generateContent wire types (inline transport).

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type content struct {
	Parts []contentPart `json:"parts"`
}

type generateContentRequest struct {
	Contents []content `json:"contents"`
}

type candidateResponse struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type generateContentResponse struct {
	Candidates     []candidateResponse `json:"candidates"`
	PromptFeedback *promptFeedback     `json:"promptFeedback,omitempty"`
}

// predict wire types (batch transport).

type predictInstance struct {
	Prompt string        `json:"prompt"`
	Image  *predictImage `json:"image,omitempty"`
}

type predictImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
}

type predictParameters struct {
	SampleCount int `json:"sampleCount"`
}

type predictRequest struct {
	Instances  []predictInstance `json:"instances"`
	Parameters predictParameters `json:"parameters"`
}

type prediction struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType,omitempty"`
}

type predictResponse struct {
	Predictions []prediction `json:"predictions"`
}

type apiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}

// Invoke performs exactly one call against the given candidate, dispatching
// on its transport variant. The two shapes are distinct code paths.
func (c *Client) Invoke(ctx context.Context, candidate model.ModelCandidate, payload Payload) (*Output, error) {
	switch candidate.Transport {
	case model.TransportContent:
		return c.invokeContent(ctx, candidate, payload)
	case model.TransportPredict:
		return c.invokePredict(ctx, candidate, payload)
	default:
		return nil, newError(ClassUnknown, candidate.Model, "unsupported transport %q", candidate.Transport)
	}
}

func (c *Client) invokeContent(ctx context.Context, candidate model.ModelCandidate, payload Payload) (*Output, error) {
	parts := make([]contentPart, 0, 2)
	if len(payload.SourceImage) > 0 {
		mime := payload.SourceMime
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, contentPart{InlineData: &inlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(payload.SourceImage),
		}})
	}
	parts = append(parts, contentPart{Text: payload.Prompt})

	body, err := request.ToJsonReq(&generateContentRequest{Contents: []content{{Parts: parts}}})
	if err != nil {
		return nil, newError(ClassUnknown, candidate.Model, "encode request: %v", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, candidate.Model, c.apiKey)
	raw, cerr := c.post(ctx, candidate.Model, url, body)
	if cerr != nil {
		return nil, cerr
	}

	var resp generateContentResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, newError(ClassUnknown, candidate.Model, "decode response: %v", err)
	}

	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, newError(ClassContentRejected, candidate.Model, "prompt blocked: %s", resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return nil, newError(ClassUnknown, candidate.Model, "empty candidate list in response")
	}

	first := resp.Candidates[0]
	if isSafetyFinish(first.FinishReason) {
		return nil, newError(ClassContentRejected, candidate.Model, "generation stopped: %s", first.FinishReason)
	}

	out := &Output{Model: candidate.Model}
	for _, part := range first.Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" && len(out.Data) == 0 {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, newError(ClassUnknown, candidate.Model, "decode inline data: %v", err)
			}
			out.Data = data
			out.MimeType = part.InlineData.MimeType
		}
		if part.Text != "" {
			out.Text += part.Text
		}
	}

	expectsImage := candidate.Capability == model.CapabilityImageGenerate ||
		candidate.Capability == model.CapabilityImageEdit
	if expectsImage && !out.HasArtifact() {
		// A text-only answer to an image request is the backend explaining
		// why it refused to draw.
		return nil, newError(ClassContentRejected, candidate.Model, "no artifact in response: %s", firstLine(out.Text))
	}
	if !expectsImage && out.Text == "" {
		return nil, newError(ClassUnknown, candidate.Model, "empty text response")
	}

	out.CostEstimate = estimateCost(payload.Prompt, out)
	return out, nil
}

func (c *Client) invokePredict(ctx context.Context, candidate model.ModelCandidate, payload Payload) (*Output, error) {
	instance := predictInstance{Prompt: payload.Prompt}
	if len(payload.SourceImage) > 0 {
		instance.Image = &predictImage{BytesBase64Encoded: base64.StdEncoding.EncodeToString(payload.SourceImage)}
	}

	body, err := request.ToJsonReq(&predictRequest{
		Instances:  []predictInstance{instance},
		Parameters: predictParameters{SampleCount: 1},
	})
	if err != nil {
		return nil, newError(ClassUnknown, candidate.Model, "encode request: %v", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:predict?key=%s", c.baseURL, candidate.Model, c.apiKey)
	raw, cerr := c.post(ctx, candidate.Model, url, body)
	if cerr != nil {
		return nil, cerr
	}

	var resp predictResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, newError(ClassUnknown, candidate.Model, "decode response: %v", err)
	}
	if len(resp.Predictions) == 0 {
		return nil, newError(ClassContentRejected, candidate.Model, "no predictions in response")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Predictions[0].BytesBase64Encoded)
	if err != nil {
		return nil, newError(ClassUnknown, candidate.Model, "decode prediction: %v", err)
	}
	mime := resp.Predictions[0].MimeType
	if mime == "" {
		mime = "image/png"
	}

	out := &Output{Data: data, MimeType: mime, Model: candidate.Model}
	out.CostEstimate = estimateCost(payload.Prompt, out)
	return out, nil
}

// post sends the request and returns the raw body on 2XX, or a classified
// error otherwise.
func (c *Client) post(ctx context.Context, modelName, url string, body *bytes.Buffer) ([]byte, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, newError(ClassUnknown, modelName, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, newError(ClassTransport, modelName, "%v", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ClassTransport, modelName, "read response: %v", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, nil
	}
	return nil, classifyStatus(modelName, resp.StatusCode, raw)
}

func classifyStatus(modelName string, status int, raw []byte) *Error {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(raw, &apiErr)
	message := apiErr.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}
	lower := strings.ToLower(message + " " + apiErr.Error.Status)

	switch {
	case status == http.StatusNotFound:
		return newError(ClassNotFound, modelName, "%s", message)
	case status == http.StatusTooManyRequests:
		if strings.Contains(lower, "quota") || strings.Contains(lower, "resource_exhausted") {
			return newError(ClassQuotaExceeded, modelName, "%s", message)
		}
		return newError(ClassRateLimited, modelName, "%s", message)
	case status == http.StatusServiceUnavailable || strings.Contains(lower, "overloaded"):
		return newError(ClassOverloaded, modelName, "%s", message)
	case status >= 500:
		return newError(ClassTransport, modelName, "upstream %d: %s", status, message)
	default:
		return newError(ClassUnknown, modelName, "upstream %d: %s", status, message)
	}
}

func isSafetyFinish(reason string) bool {
	switch strings.ToUpper(reason) {
	case "SAFETY", "IMAGE_SAFETY", "PROHIBITED_CONTENT", "BLOCKLIST":
		return true
	}
	return false
}

// estimateCost derives the credit cost from input and output size, roughly
// four characters per token, plus a flat charge for an image artifact.
func estimateCost(prompt string, out *Output) int64 {
	chars := len(prompt) + len(out.Text)
	cost := int64((chars + 3) / 4)
	if out.HasArtifact() {
		cost += 50
	}
	return cost
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
