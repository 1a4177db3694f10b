package prompt

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
)

func TestExtractStringArray(t *testing.T) {
	cases := []struct {
		name    string
		content string
		want    []string
		wantErr bool
	}{
		{
			name:    "bare array",
			content: `["a", "b"]`,
			want:    []string{"a", "b"},
		},
		{
			name:    "surrounded by prose",
			content: "Here are the hints:\n```json\n[\"a\", \"b\"]\n```\nHope that helps!",
			want:    []string{"a", "b"},
		},
		{
			name:    "brackets inside strings",
			content: `["fix the [main] banner", "check robots.txt"]`,
			want:    []string{"fix the [main] banner", "check robots.txt"},
		},
		{
			name:    "no array",
			content: "I cannot help with that.",
			wantErr: true,
		},
		{
			name:    "array of objects",
			content: `[{"hint": "a"}]`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := extractStringArray(tc.content)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func chatReply(content string) string {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	})
	return string(body)
}

func TestOpenAIClientGenerateHints(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatReply(`["Fix the script.", "Restore the image."]`)))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-test", "gpt-4o-mini", logging.NopLogger{})

	defects := []model.Defect{
		{Type: model.TypeConsoleError, Title: "Console error: boom", Details: "boom", Page: "http://site.example/"},
		{Type: model.TypeBrokenImage, Title: "Broken image: hero", Details: "Image failed to load: /hero.png", Page: "http://site.example/"},
	}

	hints, err := client.GenerateHints(context.Background(), "http://site.example/", defects)
	require.NoError(t, err)
	assert.Equal(t, []string{"Fix the script.", "Restore the image."}, hints)
	assert.Equal(t, "Bearer sk-test", gotAuth)
}

func TestOpenAIClientLengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatReply(`["only one hint"]`)))
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-test", "", logging.NopLogger{})
	defects := []model.Defect{
		{Type: model.TypeConsoleError, Title: "a", Details: "a", Page: "http://site.example/"},
		{Type: model.TypeConsoleError, Title: "b", Details: "b", Page: "http://site.example/"},
	}

	_, err := client.GenerateHints(context.Background(), "http://site.example/", defects)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBatchMismatch)
}

func TestOpenAIClientHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClient(srv.URL, "sk-test", "", logging.NopLogger{})
	_, err := client.GenerateHints(context.Background(), "http://site.example/", []model.Defect{
		{Type: model.TypeConsoleError, Title: "a", Details: "a", Page: "http://site.example/"},
	})
	assert.Error(t, err)
}
