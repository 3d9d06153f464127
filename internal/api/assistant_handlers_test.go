package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/nsn-sourcing/internal/config"
	"github.com/JakeFAU/nsn-sourcing/internal/llm/openrouter"
)

type fakeAssistant struct {
	stage openrouter.Stage
	err   error

	classified int
	gotStage   openrouter.Stage
	gotFacts   map[string]string
	gotText    string
}

func (f *fakeAssistant) ClassifyThread(_ context.Context, _ []openrouter.ThreadMessage) (openrouter.Stage, error) {
	f.classified++
	return f.stage, f.err
}

func (f *fakeAssistant) DraftReply(_ context.Context, _ []openrouter.ThreadMessage, stage openrouter.Stage, facts map[string]string) (string, error) {
	f.gotStage, f.gotFacts = stage, facts
	return "Thanks, we will send a PO.", f.err
}

func (f *fakeAssistant) ExtractQuote(_ context.Context, text string) (openrouter.Quote, error) {
	f.gotText = text
	price := 4.2
	return openrouter.Quote{UnitPrice: &price, Currency: "USD", Parsed: true}, f.err
}

func assistantServer(a Assistant) *Server {
	return NewServer(Deps{Assistant: a, Logger: zap.NewNop()}, config.Config{})
}

func post(s *Server, path, body string) *httptest.ResponseRecorder {
	return serve(s, httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body)))
}

const threadBody = `{"thread":[{"from":"us","body":"Please quote."},{"from":"supplier","body":"$4.20 each."}]`

func TestAssistantHandlerClassify(t *testing.T) {
	t.Parallel()

	a := &fakeAssistant{stage: openrouter.StageQuoteReceived}
	rec := post(assistantServer(a), "/v1/assistant/classify", threadBody+"}")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"stage":"Quote Received"}`, rec.Body.String())
	require.Equal(t, 1, a.classified)
}

func TestAssistantHandlerReply(t *testing.T) {
	t.Parallel()

	a := &fakeAssistant{stage: openrouter.StageQuoteReceived}
	rec := post(assistantServer(a), "/v1/assistant/reply", threadBody+`,"stage":"substitute y/n","context":{"nsn":"5306-00-373-3291"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 0, a.classified)
	require.Equal(t, openrouter.StageSubstitute, a.gotStage)
	require.Equal(t, map[string]string{"nsn": "5306-00-373-3291"}, a.gotFacts)

	var body struct {
		Stage string `json:"stage"`
		Draft string `json:"draft"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Substitute y/n", body.Stage)
	require.Equal(t, "Thanks, we will send a PO.", body.Draft)

	// Without a stage the thread is classified first.
	a = &fakeAssistant{stage: openrouter.StageSend}
	rec = post(assistantServer(a), "/v1/assistant/reply", threadBody+"}")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, a.classified)
	require.Equal(t, openrouter.StageSend, a.gotStage)
}

func TestAssistantHandlerQuote(t *testing.T) {
	t.Parallel()

	a := &fakeAssistant{}
	rec := post(assistantServer(a), "/v1/assistant/quote", `{"text":"Unit price $4.20"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Unit price $4.20", a.gotText)
	require.JSONEq(t, `{"quote":{"unit_price":4.2,"currency":"USD","parsed":true}}`, rec.Body.String())
}

func TestAssistantHandlerErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    *fakeAssistant
		path string
		body string
		want int
	}{
		{"invalid json", &fakeAssistant{}, "/v1/assistant/classify", "{", http.StatusBadRequest},
		{"empty thread", &fakeAssistant{}, "/v1/assistant/reply", `{"thread":[]}`, http.StatusBadRequest},
		{"empty text", &fakeAssistant{}, "/v1/assistant/quote", `{"text":"  "}`, http.StatusBadRequest},
		{"upstream classify", &fakeAssistant{err: errors.New("boom")}, "/v1/assistant/classify", threadBody + "}", http.StatusBadGateway},
		{"upstream reply", &fakeAssistant{err: errors.New("boom")}, "/v1/assistant/reply", threadBody + "}", http.StatusBadGateway},
		{"upstream quote", &fakeAssistant{err: errors.New("boom")}, "/v1/assistant/quote", `{"text":"x"}`, http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := post(assistantServer(tt.a), tt.path, tt.body)
			require.Equal(t, tt.want, rec.Code)
		})
	}
}
