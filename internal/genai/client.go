/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package genai is a minimal HTTP client for the generative-AI backend. It
// covers the two calls the application needs: image generation from a base
// image plus prompt, and a stateless chat turn over a message transcript.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Message roles for the chat contract.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

// ErrNoImage is returned when the backend answers successfully but its
// response carries no image payload. Callers treat this as a distinct
// non-exceptional failure with its own user message.
var ErrNoImage = errors.New("model returned no image")

// APIError is a structured error from the backend's {"error": ...} envelope.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("genai backend %d: %s", e.StatusCode, e.Message)
}

// Message is one turn of the chat transcript.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Client talks to the generation backend. baseURL may include a trailing
// slash; it is normalized.
type Client struct {
	BaseURL    string
	APIKey     string
	ImageModel string
	ChatModel  string
	client     *http.Client
}

// NewClient creates a backend client with the given request timeout.
func NewClient(baseURL, apiKey, imageModel, chatModel string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		ImageModel: imageModel,
		ChatModel:  chatModel,
		client:     &http.Client{Timeout: timeout},
	}
}

// wire types for the generateContent call

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateImage sends the base image bytes and prompt to the image model and
// returns the generated image bytes and their mime type. A transport-level
// success without an image part returns ErrNoImage.
func (c *Client) GenerateImage(ctx context.Context, baseImage []byte, mimeType, prompt string) ([]byte, string, error) {
	req := generateRequest{Contents: []content{{
		Role: RoleUser,
		Parts: []part{
			{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(baseImage)}},
			{Text: prompt},
		},
	}}}
	resp, err := c.post(ctx, c.ImageModel, req)
	if err != nil {
		return nil, "", err
	}
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.InlineData == nil {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				return nil, "", fmt.Errorf("decode image payload: %w", err)
			}
			return raw, p.InlineData.MimeType, nil
		}
	}
	return nil, "", ErrNoImage
}

// Chat sends the conversation so far and returns the model's reply text. The
// last entry must have role user.
func (c *Client) Chat(ctx context.Context, msgs []Message) (string, error) {
	if len(msgs) == 0 {
		return "", errors.New("empty conversation")
	}
	if msgs[len(msgs)-1].Role != RoleUser {
		return "", errors.New("last message must have role user")
	}
	req := generateRequest{Contents: make([]content, len(msgs))}
	for i, m := range msgs {
		req.Contents[i] = content{Role: m.Role, Parts: []part{{Text: m.Text}}}
	}
	resp, err := c.post(ctx, c.ChatModel, req)
	if err != nil {
		return "", err
	}
	for _, cand := range resp.Candidates {
		for _, p := range cand.Content.Parts {
			if p.Text != "" {
				return p.Text, nil
			}
		}
	}
	return "", errors.New("model returned no text")
}

func (c *Client) post(ctx context.Context, model string, payload generateRequest) (*generateResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.BaseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("x-goog-api-key", c.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", model, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var decoded generateResponse
	if uerr := json.Unmarshal(raw, &decoded); uerr != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil, fmt.Errorf("decode response: %w", uerr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if decoded.Error != nil && decoded.Error.Message != "" {
			msg = decoded.Error.Message
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: decoded.Error.Message}
	}
	return &decoded, nil
}

// UserMessage extracts a single user-facing message from any error produced
// by this package.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if errors.Is(err, ErrNoImage) {
		return "The model returned no image. Try again or adjust the keywords."
	}
	return err.Error()
}
