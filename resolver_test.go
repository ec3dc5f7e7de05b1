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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/internal/genai"
	"github.com/paintbox-ai/paintbox/model"
)

func testGenAIConfig() *config.GenAIConfig {
	return &config.GenAIConfig{
		TextModels: []config.CandidateSpec{
			{Model: "text-a", Transport: "content"},
			{Model: "text-b", Transport: "content"},
		},
		ImageModels: []config.CandidateSpec{
			{Model: "image-a", Transport: "content"},
			{Model: "image-b", Transport: "predict"},
			{Model: "image-c", Transport: "predict"},
		},
		EditModels: []config.CandidateSpec{
			{Model: "edit-a", Transport: "content"},
		},
		DescribeModels: []config.CandidateSpec{
			{Model: "describe-a", Transport: "content"},
		},
	}
}

func matchModel(name string) interface{} {
	return mock.MatchedBy(func(c model.ModelCandidate) bool { return c.Model == name })
}

func unavailable(class genai.Class, model string) *genai.Error {
	return &genai.Error{Class: class, Model: model, Message: "unavailable"}
}

func TestResolvePrefersFirstCandidate(t *testing.T) {
	backend := &MockInvoker{}
	resolver := NewResolver(testGenAIConfig(), backend)

	backend.On("Invoke", mock.Anything, matchModel("image-a"), mock.Anything).
		Return(&genai.Output{Data: []byte{1}, MimeType: "image/png", Model: "image-a"}, nil)

	out, err := resolver.Resolve(context.Background(), ResolveRequest{
		Capability: model.CapabilityImageGenerate,
		Prompt:     "a red barn",
	})

	assert.NoError(t, err)
	assert.Equal(t, "image-a", out.Model)
	backend.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestResolveAdvancesOnUnavailability(t *testing.T) {
	backend := &MockInvoker{}
	resolver := NewResolver(testGenAIConfig(), backend)

	backend.On("Invoke", mock.Anything, matchModel("image-a"), mock.Anything).
		Return(nil, unavailable(genai.ClassRateLimited, "image-a"))
	backend.On("Invoke", mock.Anything, matchModel("image-b"), mock.Anything).
		Return(nil, unavailable(genai.ClassOverloaded, "image-b"))
	backend.On("Invoke", mock.Anything, matchModel("image-c"), mock.Anything).
		Return(&genai.Output{Data: []byte{1}, Model: "image-c"}, nil)

	out, err := resolver.Resolve(context.Background(), ResolveRequest{
		Capability: model.CapabilityImageGenerate,
		Prompt:     "a red barn",
	})

	assert.NoError(t, err)
	assert.Equal(t, "image-c", out.Model)
	backend.AssertNumberOfCalls(t, "Invoke", 3)
}

func TestResolveExhaustionReturnsNoBackend(t *testing.T) {
	backend := &MockInvoker{}
	resolver := NewResolver(testGenAIConfig(), backend)

	backend.On("Invoke", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, unavailable(genai.ClassQuotaExceeded, "any"))

	out, err := resolver.Resolve(context.Background(), ResolveRequest{
		Capability: model.CapabilityImageGenerate,
		Prompt:     "a red barn",
	})

	assert.Nil(t, out)
	assert.ErrorIs(t, err, ErrNoBackendAvailable)
	backend.AssertNumberOfCalls(t, "Invoke", 3)
}

func TestResolveTransportFailureIsTerminal(t *testing.T) {
	backend := &MockInvoker{}
	resolver := NewResolver(testGenAIConfig(), backend)

	backend.On("Invoke", mock.Anything, matchModel("image-a"), mock.Anything).
		Return(nil, unavailable(genai.ClassTransport, "image-a"))

	_, err := resolver.Resolve(context.Background(), ResolveRequest{
		Capability: model.CapabilityImageGenerate,
		Prompt:     "a red barn",
	})

	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoBackendAvailable)
	// The remaining candidates are never tried for a systemic failure.
	backend.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestResolveGenerationRejectionIsTerminal(t *testing.T) {
	backend := &MockInvoker{}
	resolver := NewResolver(testGenAIConfig(), backend)

	backend.On("Invoke", mock.Anything, matchModel("image-a"), mock.Anything).
		Return(nil, unavailable(genai.ClassContentRejected, "image-a"))

	_, err := resolver.Resolve(context.Background(), ResolveRequest{
		Capability: model.CapabilityImageGenerate,
		Prompt:     "something disallowed",
	})

	assert.ErrorIs(t, err, ErrContentRejected)
	backend.AssertNumberOfCalls(t, "Invoke", 1)
}

func TestResolveEditRejectionFallsBackToDescribeThenGenerate(t *testing.T) {
	backend := &MockInvoker{}
	resolver := NewResolver(testGenAIConfig(), backend)
	source := []byte{9, 9, 9}

	backend.On("Invoke", mock.Anything, matchModel("edit-a"), mock.Anything).
		Return(nil, unavailable(genai.ClassContentRejected, "edit-a"))
	backend.On("Invoke", mock.Anything, matchModel("describe-a"), mock.MatchedBy(func(p genai.Payload) bool {
		return len(p.SourceImage) == len(source)
	})).Return(&genai.Output{Text: "a barn at sunset, painted blue", Model: "describe-a", CostEstimate: 40}, nil)
	backend.On("Invoke", mock.Anything, matchModel("image-a"), mock.MatchedBy(func(p genai.Payload) bool {
		return p.Prompt == "a barn at sunset, painted blue" && p.SourceImage == nil
	})).Return(&genai.Output{Data: []byte{1, 2}, MimeType: "image/png", Model: "image-a", CostEstimate: 90}, nil)

	out, err := resolver.Resolve(context.Background(), ResolveRequest{
		Capability:  model.CapabilityImageEdit,
		Prompt:      "paint the barn blue",
		SourceImage: source,
		SourceMime:  "image/jpeg",
	})

	assert.NoError(t, err)
	// The user still receives an artifact, not a text explanation.
	assert.True(t, out.HasArtifact())
	assert.Equal(t, int64(130), out.CostEstimate)
}

func TestResolveUnknownCapabilityExhaustsImmediately(t *testing.T) {
	backend := &MockInvoker{}
	resolver := NewResolver(testGenAIConfig(), backend)

	_, err := resolver.Resolve(context.Background(), ResolveRequest{Capability: "unheard-of"})

	assert.ErrorIs(t, err, ErrNoBackendAvailable)
	backend.AssertNumberOfCalls(t, "Invoke", 0)
}
