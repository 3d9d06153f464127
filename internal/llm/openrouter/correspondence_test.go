package openrouter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

// chatServer answers every completion with reply and hands each decoded
// request to inspect.
func chatServer(t *testing.T, reply string, inspect func(chatRequest)) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if inspect != nil {
			inspect(req)
		}
		body, err := json.Marshal(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
	require.NoError(t, err)
	return c
}

var thread = []ThreadMessage{
	{From: "us", Body: "Please quote NSN 5306-00-373-3291, qty 10."},
	{From: "supplier", Body: "Unit price $4.20, ships in 3 weeks."},
}

func TestMatchStage(t *testing.T) {
	t.Parallel()

	tests := map[string]Stage{
		"Quote Received":          StageQuoteReceived,
		`"quote received"`:        StageQuoteReceived,
		"Stage: Substitute y/n.":  StageSubstitute,
		"outreach sent":           StageOutreachSent,
		"Send":                    StageSend,
		"Not Yet":                 StageNotYet,
		"I am not sure what this": StageNotYet,
		"":                        StageNotYet,
	}
	for reply, want := range tests {
		require.Equal(t, want, MatchStage(reply), reply)
	}
}

func TestClassifyThread(t *testing.T) {
	t.Parallel()

	var seen chatRequest
	c := chatServer(t, " Quote Received\n", func(req chatRequest) { seen = req })

	stage, err := c.ClassifyThread(context.Background(), thread)
	require.NoError(t, err)
	require.Equal(t, StageQuoteReceived, stage)

	require.Equal(t, 50, seen.MaxTokens)
	require.InDelta(t, 0.1, seen.Temperature, 1e-9)
	require.Len(t, seen.Messages, 2)
	require.Equal(t, classifyPrompt, seen.Messages[0].Content)
	require.Contains(t, seen.Messages[1].Content, "--- Email 2 (from: supplier) ---")
	require.Contains(t, seen.Messages[1].Content, "Unit price $4.20")
}

func TestDraftReplyListsFacts(t *testing.T) {
	t.Parallel()

	var seen chatRequest
	c := chatServer(t, "Thanks for the quote.", func(req chatRequest) { seen = req })

	reply, err := c.DraftReply(context.Background(), thread, StageQuoteReceived, map[string]string{
		"quantity": "10",
		"nsn":      "5306-00-373-3291",
		"notes":    "  ",
	})
	require.NoError(t, err)
	require.Equal(t, "Thanks for the quote.", reply)

	user := seen.Messages[1].Content
	require.True(t, strings.HasPrefix(user, "Stage: Quote Received\n\n"))
	require.Contains(t, user, "Context:\n- nsn: 5306-00-373-3291\n- quantity: 10\n\n")
	require.NotContains(t, user, "notes")
	require.Equal(t, 512, seen.MaxTokens)
}

func TestExtractQuote(t *testing.T) {
	t.Parallel()

	var seen chatRequest
	c := chatServer(t, "```json\n{\"partNumber\":\"MS90725-6\",\"unitPrice\":\"$1,234.50\",\"totalPrice\":12345,\"quantity\":10,\"leadTime\":\"3 weeks\",\"currency\":null}\n```",
		func(req chatRequest) { seen = req })

	q, err := c.ExtractQuote(context.Background(), strings.Repeat("é", maxQuoteInput+500))
	require.NoError(t, err)
	require.True(t, q.Parsed)
	require.Equal(t, "MS90725-6", q.PartNumber)
	require.NotNil(t, q.UnitPrice)
	require.InDelta(t, 1234.50, *q.UnitPrice, 1e-9)
	require.NotNil(t, q.TotalPrice)
	require.InDelta(t, 12345, *q.TotalPrice, 1e-9)
	require.Equal(t, "10", q.Quantity)
	require.Equal(t, "3 weeks", q.LeadTime)
	require.Equal(t, "USD", q.Currency)

	sent := strings.TrimPrefix(seen.Messages[1].Content, "Extract quote data from:\n\n")
	require.Equal(t, maxQuoteInput, utf8.RuneCountInString(sent))
	require.Equal(t, 256, seen.MaxTokens)
}

func TestParseQuoteNotJSON(t *testing.T) {
	t.Parallel()

	q := ParseQuote("The supplier did not give a price.")
	require.False(t, q.Parsed)
	require.Equal(t, "The supplier did not give a price.", q.Raw)
	require.Nil(t, q.UnitPrice)

	q = ParseQuote(`{"unitPrice":"call for price","currency":"EUR"}`)
	require.True(t, q.Parsed)
	require.Nil(t, q.UnitPrice)
	require.Equal(t, "EUR", q.Currency)
}
