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
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/paintbox-ai/paintbox/config"
	"github.com/paintbox-ai/paintbox/internal/genai"
	"github.com/paintbox-ai/paintbox/model"
)

// ErrNoBackendAvailable is the terminal failure returned once a
// capability's candidate list is exhausted.
var ErrNoBackendAvailable = errors.New("no backend available")

// ErrContentRejected is the terminal failure for a policy refusal that no
// fallback strategy could recover.
var ErrContentRejected = errors.New("content rejected by policy")

// ResolveRequest is one generation request handed to the resolver.
type ResolveRequest struct {
	Capability  model.Capability
	Prompt      string
	SourceImage []byte
	SourceMime  string
}

// Resolver drives the backend client through a capability's ordered
// candidate list until success or exhaustion. All fallback state lives in
// a per-invocation value; the Resolver itself carries no cursors and is
// safe for concurrent jobs.
type Resolver struct {
	backend genai.Invoker
	lists   map[model.Capability][]model.ModelCandidate
}

// NewResolver builds the per-capability candidate lists from configuration.
func NewResolver(cnf *config.GenAIConfig, backend genai.Invoker) *Resolver {
	return &Resolver{
		backend: backend,
		lists: map[model.Capability][]model.ModelCandidate{
			model.CapabilityText:          buildCandidates(model.CapabilityText, cnf.TextModels),
			model.CapabilityImageGenerate: buildCandidates(model.CapabilityImageGenerate, cnf.ImageModels),
			model.CapabilityImageEdit:     buildCandidates(model.CapabilityImageEdit, cnf.EditModels),
			model.CapabilityDescribe:      buildCandidates(model.CapabilityDescribe, cnf.DescribeModels),
		},
	}
}

func buildCandidates(capability model.Capability, specs []config.CandidateSpec) []model.ModelCandidate {
	candidates := make([]model.ModelCandidate, 0, len(specs))
	for _, spec := range specs {
		transport := model.Transport(spec.Transport)
		if transport != model.TransportPredict {
			transport = model.TransportContent
		}
		candidates = append(candidates, model.ModelCandidate{
			Model:      spec.Model,
			Capability: capability,
			Transport:  transport,
		})
	}
	return candidates
}

// resolution is the fallback state for one job execution: the ordered
// candidate list and a cursor over it. It is never shared between
// executions.
type resolution struct {
	candidates []model.ModelCandidate
	cursor     int
}

func (r *resolution) current() (model.ModelCandidate, bool) {
	if r.cursor >= len(r.candidates) {
		return model.ModelCandidate{}, false
	}
	return r.candidates[r.cursor], true
}

func (r *resolution) advance() {
	r.cursor++
}

// Resolve walks the candidate list for the request's capability.
// Unavailability-shaped failures advance the cursor; transport failures
// and policy refusals are terminal, except an edit refusal, which falls
// back to the describe-then-generate strategy.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (*genai.Output, error) {
	run := resolution{candidates: r.lists[req.Capability]}
	payload := genai.Payload{
		Prompt:      req.Prompt,
		SourceImage: req.SourceImage,
		SourceMime:  req.SourceMime,
	}

	for {
		candidate, ok := run.current()
		if !ok {
			return nil, fmt.Errorf("%w for capability %s", ErrNoBackendAvailable, req.Capability)
		}

		out, err := r.backend.Invoke(ctx, candidate, payload)
		if err == nil {
			return out, nil
		}

		switch genai.ClassOf(err) {
		case genai.ClassNotFound, genai.ClassRateLimited, genai.ClassQuotaExceeded, genai.ClassOverloaded:
			logrus.Infof("candidate %s unavailable (%s), advancing", candidate.Model, genai.ClassOf(err))
			run.advance()
		case genai.ClassContentRejected:
			if req.Capability == model.CapabilityImageEdit {
				return r.describeThenGenerate(ctx, req)
			}
			return nil, fmt.Errorf("%w: %v", ErrContentRejected, err)
		default:
			// Transport and unknown failures are terminal so a systemic
			// outage is never masked as model unavailability.
			return nil, err
		}
	}
}

// describeThenGenerate is the secondary edit strategy: describe the source
// image together with the requested change using a cheap multimodal call,
// then run a fresh generation from that description. The user still gets
// an edited-looking artifact even though the call chain changed
// capability. Each step runs its own resolution with its own cursor.
func (r *Resolver) describeThenGenerate(ctx context.Context, req ResolveRequest) (*genai.Output, error) {
	logrus.Infof("edit rejected by all direct candidates, switching to describe-then-generate")

	describePrompt := fmt.Sprintf(
		"Describe this image in detail as a prompt for an image generator, applying the following change: %s. Reply with the prompt only.",
		req.Prompt,
	)
	described, err := r.Resolve(ctx, ResolveRequest{
		Capability:  model.CapabilityDescribe,
		Prompt:      describePrompt,
		SourceImage: req.SourceImage,
		SourceMime:  req.SourceMime,
	})
	if err != nil {
		return nil, err
	}

	generated, err := r.Resolve(ctx, ResolveRequest{
		Capability: model.CapabilityImageGenerate,
		Prompt:     described.Text,
	})
	if err != nil {
		return nil, err
	}

	// The describe step cost real tokens too.
	generated.CostEstimate += described.CostEstimate
	return generated, nil
}
