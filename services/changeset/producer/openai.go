// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/AleutianAI/AleutianApply/pkg/apperr"
	"github.com/AleutianAI/AleutianApply/pkg/logging"
	"github.com/AleutianAI/AleutianApply/services/changeset/datatypes"
)

const defaultModel = "gpt-4o-mini"

const systemPrompt = `You are a code change generator. Respond with a single JSON object:
{"summary": "...", "changes": [{"kind": "modify|create|delete|move", "path": "...", "diff": "...", "content": "...", "old_path": "...", "new_path": "..."}]}
Modify changes carry a unified diff in "diff". Create changes carry the full file in "content". Respond with JSON only, no prose and no code fences.`

// OpenAIProducer generates proposals through the OpenAI chat completion
// API.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is stateless per call.
type OpenAIProducer struct {
	client *openai.Client
	model  string
	log    *logging.Logger
}

// NewOpenAIProducer creates a producer with the given credentials. An
// empty model selects the default.
func NewOpenAIProducer(apiKey, model string, log *logging.Logger) (*OpenAIProducer, error) {
	if apiKey == "" {
		return nil, apperr.New(apperr.CodeValidation, "OpenAI API key is not configured")
	}
	if model == "" {
		model = defaultModel
	}
	return &OpenAIProducer{
		client: openai.NewClient(apiKey),
		model:  model,
		log:    log,
	}, nil
}

// Produce sends the request to the model and parses the JSON envelope it
// returns into a proposal.
//
// API failures classify through the failure-signal contract: rate limits,
// timeouts, and upstream outages come back retryable; malformed model
// output is a REMOTE_SERVICE failure because a different attempt may
// produce valid output.
func (p *OpenAIProducer) Produce(ctx context.Context, req Request) (datatypes.Proposal, error) {
	p.log.Debug("requesting change proposal", "model", p.model, "files", len(req.Files))

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return datatypes.Proposal{}, classifyAPIError(err)
	}
	if len(resp.Choices) == 0 {
		return datatypes.Proposal{}, apperr.New(apperr.CodeRemoteService, "model returned no choices")
	}

	proposal, err := parseProposal(resp.Choices[0].Message.Content)
	if err != nil {
		return datatypes.Proposal{}, err
	}
	p.log.Debug("received change proposal", "changes", len(proposal.Changes))
	return proposal, nil
}

// buildUserPrompt assembles the request, file context, and diagnostics
// into one prompt body.
func buildUserPrompt(req Request) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	b.WriteString("\n")
	for _, f := range req.Files {
		fmt.Fprintf(&b, "\n--- FILE: %s ---\n%s\n", f.Path, f.Content)
	}
	if len(req.Diagnostics) > 0 {
		b.WriteString("\nDiagnostics to address:\n")
		for _, d := range req.Diagnostics {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
	}
	return b.String()
}

// parseProposal decodes the model's JSON envelope. Code fences are
// stripped when the model ignores the no-fences instruction.
func parseProposal(raw string) (datatypes.Proposal, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	// An unparseable envelope is a transient model failure worth retrying;
	// a parseable proposal with invalid operations is terminal.
	var proposal datatypes.Proposal
	if err := json.Unmarshal([]byte(cleaned), &proposal); err != nil {
		return datatypes.Proposal{}, apperr.Newf(apperr.CodeRemoteService, "model output is not a valid proposal: %v", err)
	}
	if err := proposal.Validate(); err != nil {
		return datatypes.Proposal{}, apperr.Wrap(apperr.CodeValidation, fmt.Errorf("model proposal failed validation: %w", err))
	}
	return proposal, nil
}

// apiSignal adapts the OpenAI client error shape to the classifier's
// failure-signal contract.
type apiSignal struct {
	apiErr *openai.APIError
}

func (s apiSignal) StatusCode() int {
	return s.apiErr.HTTPStatusCode
}

func (s apiSignal) ErrorCode() string {
	if code, ok := s.apiErr.Code.(string); ok {
		return code
	}
	return ""
}

func (s apiSignal) Message() string {
	return s.apiErr.Message
}

var _ apperr.FailureSignal = apiSignal{}

func classifyAPIError(err error) *apperr.AppError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		classified := apperr.Classify(apiSignal{apiErr: apiErr})
		return classified
	}
	return apperr.ClassifyError(err)
}
