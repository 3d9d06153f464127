package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/nsn-sourcing/internal/config"
	"github.com/JakeFAU/nsn-sourcing/internal/publisher"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

const boltNSN = "5306-00-373-3291"

func albertaServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/opportunity/search", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"totalCount":1,"values":[{
			"referenceNumber":"AB-2024-00123",
			"shortTitle":"Machine bolts",
			"statusCode":"OPEN",
			"postDateTime":"2024-05-01T08:00:00Z",
			"closeDateTime":"2024-06-01T14:00:00-06:00",
			"contractingOrganization":"Alberta Infrastructure"
		}]}`))
	})
	mux.HandleFunc("/api/opportunity/public/2024/123", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"opportunity":{"contactInformation":{
			"firstName":"Alex","lastName":"Buyer","emailAddress":"alex@gov.ab.ca"}}}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, albertaURL string) config.Config {
	t.Helper()
	out := t.TempDir()
	return config.Config{
		Server:  config.ServerConfig{Port: 0, QueueDepth: 2, ShutdownTimeout: time.Second},
		Logging: config.LoggingConfig{Format: "json", Level: "error"},
		Pipeline: config.PipelineConfig{
			ScrapeConcurrency:      2,
			MaxPersistenceFailures: 3,
			CallTimeout:            5 * time.Second,
		},
		Retry:     config.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		RateLimit: config.RateLimitConfig{EnrichBudget: 20, EnrichWindow: time.Minute},
		Scrape:    config.ScrapeConfig{UserAgent: "nsn-sourcing-test", Timeout: 5 * time.Second},
		Sources: config.SourcesConfig{
			Alberta: config.SourceConfig{Enabled: true, BaseURL: albertaURL, DaysBack: 30},
		},
		Progress:  config.ProgressConfig{Backend: config.BackendFile, Path: filepath.Join(out, "progress.json"), RunKey: "test"},
		Output:    config.OutputConfig{Dir: out, Name: "results", Backends: []string{config.SinkCSV, config.SinkJSONL}},
		Telemetry: config.TelemetryConfig{ServiceName: "nsn-sourcing-test", Version: "test"},
	}
}

func build(t *testing.T, cfg config.Config, opts ...Option) *App {
	t.Helper()
	opts = append([]Option{WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry())}, opts...)
	a, err := Build(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestRunBatchWritesLocalOutputs(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, albertaServer(t).URL)
	a := build(t, cfg)

	summary, err := a.RunBatch(context.Background(), []string{boltNSN, "5306003733291", "not-an-nsn"}, false)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Complete)
	require.Equal(t, 1, summary.Failed)
	require.False(t, summary.Interrupted)

	result, ok := a.Results().Get("5306003733291")
	require.True(t, ok)
	require.Len(t, result.Opportunities, 1)
	require.Equal(t, "AB-2024-00123", result.Opportunities[0].Number)

	for _, name := range []string{"results.csv", "results.jsonl", "results_summary.json", "progress.json"} {
		_, err := os.Stat(filepath.Join(cfg.Output.Dir, name))
		require.NoError(t, err, name)
	}

	// Everything is recorded, so a resumed run does no new work.
	again, err := a.RunBatch(context.Background(), []string{boltNSN}, true)
	require.NoError(t, err)
	require.Equal(t, 1, again.Skipped)
}

func TestServeExposesResultsAndRuns(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, albertaServer(t).URL)
	cfg.Progress.Backend = config.BackendMemory
	cfg.Output.Backends = []string{config.SinkMemory}
	a := build(t, cfg)

	_, err := a.RunBatch(context.Background(), []string{boltNSN}, false)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/nsn/"+boltNSN, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "AB-2024-00123")

	require.Eventually(t, func() bool {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs?status=success", nil))
		var body struct {
			Runs []json.RawMessage `json:"runs"`
		}
		return rec.Code == http.StatusOK && json.Unmarshal(rec.Body.Bytes(), &body) == nil && len(body.Runs) == 1
	}, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestRunBatchPublishesToPubSub(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	admin, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "nsn-results")
	require.NoError(t, err)

	cfg := testConfig(t, albertaServer(t).URL)
	cfg.Progress.Backend = config.BackendMemory
	cfg.Output.Backends = []string{config.SinkPubSub}
	cfg.PubSub = config.PubSubConfig{ProjectID: "test-project", TopicName: "nsn-results"}
	a := build(t, cfg, WithGoogleClientOptions(option.WithGRPCConn(conn)))

	_, err = a.RunBatch(ctx, []string{boltNSN}, false)
	require.NoError(t, err)

	var types []string
	for _, msg := range srv.Messages() {
		var m publisher.Message
		require.NoError(t, json.Unmarshal(msg.Data, &m))
		types = append(types, m.Type)
	}
	require.Equal(t, []string{publisher.TypeItemFinished, publisher.TypeRunFinished}, types)
}

func TestBuildRequiresASource(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Sources = config.SourcesConfig{}
	_, err := Build(context.Background(), cfg, WithLogger(zap.NewNop()), WithRegisterer(prometheus.NewRegistry()))
	require.ErrorContains(t, err, "no source connectors enabled")
}

func TestBuildSkipsSAMWithoutKey(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, albertaServer(t).URL)
	cfg.Sources.SAMGov = config.SourceConfig{Enabled: true}
	a := build(t, cfg)

	summary, err := a.RunBatch(context.Background(), []string{boltNSN}, false)
	require.NoError(t, err)
	result, ok := a.Results().Get("5306003733291")
	require.True(t, ok)
	require.Equal(t, sourcing.ItemComplete, result.Status)
	require.Equal(t, 1, summary.Complete)
}

func TestDIBBSDateDiscovery(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/Rfq/RfqDates.aspx", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
			<a href="RfqRecs.aspx?category=issue&TypeSrch=dt&Value=01-16-2026">01-16-2026</a>
			<a href="RfqRecs.aspx?category=issue&TypeSrch=dt&Value=01-15-2026">01-15-2026</a>
		</body></html>`))
	})
	dibbsSrv := httptest.NewServer(mux)
	t.Cleanup(dibbsSrv.Close)

	cfg := testConfig(t, albertaServer(t).URL)
	cfg.Sources.DIBBS = config.SourceConfig{Enabled: true, BaseURL: dibbsSrv.URL + "/rfq/rfqnsn.aspx"}
	a := build(t, cfg)

	dates, err := a.DIBBSDates(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"01-16-2026", "01-15-2026"}, dates)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/dibbs/dates", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"dates":["01-16-2026","01-15-2026"]}`, rec.Body.String())
}

func TestDIBBSDisabled(t *testing.T) {
	t.Parallel()

	a := build(t, testConfig(t, albertaServer(t).URL))

	_, err := a.DIBBSDates(context.Background())
	require.ErrorIs(t, err, errDIBBSDisabled)
	_, err = a.DIBBSListings(context.Background(), "01-15-2026", 1)
	require.ErrorIs(t, err, errDIBBSDisabled)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/dibbs/dates", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// No OpenRouter key leaves the assistant routes unavailable.
	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/assistant/classify", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
