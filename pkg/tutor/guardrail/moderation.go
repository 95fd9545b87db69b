package guardrail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var errNoRewriter = errors.New("no rewriter configured")

// Categories is the moderation category set we report on, aligned with
// omni-moderation-latest.
var Categories = []string{
	"harassment",
	"harassment/threatening",
	"hate",
	"hate/threatening",
	"sexual",
	"sexual/minors",
	"violence",
	"violence/graphic",
	"self-harm",
	"self-harm/intent",
	"self-harm/instructions",
	"illicit",
	"illicit/violent",
}

const defaultModerationBaseURL = "https://api.openai.com"

// OpenAIModerator calls the OpenAI moderation endpoint. The zero value is
// not usable; set APIKey.
type OpenAIModerator struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type moderationRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type moderationResponse struct {
	Results []struct {
		Flagged        bool               `json:"flagged"`
		Categories     map[string]bool    `json:"categories"`
		CategoryScores map[string]float64 `json:"category_scores"`
	} `json:"results"`
}

func (m *OpenAIModerator) Check(ctx context.Context, text string) (CheckResult, error) {
	model := m.Model
	if model == "" {
		model = "omni-moderation-latest"
	}
	baseURL := m.BaseURL
	if baseURL == "" {
		baseURL = defaultModerationBaseURL
	}
	client := m.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	body, err := json.Marshal(moderationRequest{Model: model, Input: text})
	if err != nil {
		return CheckResult{}, fmt.Errorf("marshal moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/v1/moderations", bytes.NewReader(body))
	if err != nil {
		return CheckResult{}, fmt.Errorf("create moderation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return CheckResult{}, fmt.Errorf("moderation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return CheckResult{}, fmt.Errorf("moderation status %d: %s", resp.StatusCode, snippet)
	}

	var decoded moderationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return CheckResult{}, fmt.Errorf("decode moderation response: %w", err)
	}
	if len(decoded.Results) == 0 {
		return CheckResult{}, errors.New("moderation response has no results")
	}

	r := decoded.Results[0]
	out := CheckResult{Flagged: r.Flagged}
	for _, category := range Categories {
		if r.Categories[category] {
			out.Categories = append(out.Categories, category)
		}
		if score := r.CategoryScores[category]; score > out.HighestScore {
			out.HighestScore = score
		}
	}
	return out, nil
}
