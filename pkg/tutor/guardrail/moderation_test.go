package guardrail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIModerator_Check(t *testing.T) {
	t.Parallel()

	var gotAuth, gotModel, gotInput string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/moderations" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var req moderationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		gotModel, gotInput = req.Model, req.Input

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{
				"flagged": true,
				"categories": map[string]bool{
					"violence": true,
					"hate":     false,
				},
				"category_scores": map[string]float64{
					"violence": 0.92,
					"hate":     0.11,
				},
			}},
		})
	}))
	defer srv.Close()

	m := &OpenAIModerator{APIKey: "sk-test", BaseURL: srv.URL}
	res, err := m.Check(context.Background(), "some text")
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}

	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth header = %q", gotAuth)
	}
	if gotModel != "omni-moderation-latest" || gotInput != "some text" {
		t.Fatalf("request = model %q input %q", gotModel, gotInput)
	}
	if !res.Flagged {
		t.Fatal("expected flagged result")
	}
	if len(res.Categories) != 1 || res.Categories[0] != "violence" {
		t.Fatalf("categories = %v", res.Categories)
	}
	if res.HighestScore != 0.92 {
		t.Fatalf("highest score = %v", res.HighestScore)
	}
}

func TestOpenAIModerator_ErrorStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	m := &OpenAIModerator{APIKey: "sk-test", BaseURL: srv.URL}
	if _, err := m.Check(context.Background(), "text"); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestOpenAIModerator_EmptyResults(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	m := &OpenAIModerator{APIKey: "sk-test", BaseURL: srv.URL}
	if _, err := m.Check(context.Background(), "text"); err == nil {
		t.Fatal("expected error on empty results")
	}
}
