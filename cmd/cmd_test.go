package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/nsn-sourcing/internal/config"
	"github.com/JakeFAU/nsn-sourcing/internal/connectors/dibbs"
	"github.com/JakeFAU/nsn-sourcing/internal/nsn"
	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

type fakeApp struct {
	inputs  []string
	resume  bool
	served  bool
	closed  bool
	summary sourcing.BatchRunSummary
	err     error

	dates    []string
	listings dibbs.DateListings
	dateErr  error
	gotDate  string
	gotPages int
}

func (f *fakeApp) RunBatch(_ context.Context, inputs []string, resume bool) (sourcing.BatchRunSummary, error) {
	f.inputs = inputs
	f.resume = resume
	return f.summary, f.err
}

func (f *fakeApp) DIBBSDates(context.Context) ([]string, error) {
	return f.dates, f.dateErr
}

func (f *fakeApp) DIBBSListings(_ context.Context, date string, maxPages int) (dibbs.DateListings, error) {
	f.gotDate, f.gotPages = date, maxPages
	return f.listings, f.dateErr
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

// execute runs the CLI with a fake app. Tests in this file share the package
// factories and must not run in parallel.
func execute(t *testing.T, fake *fakeApp, args ...string) (string, config.Config, error) {
	t.Helper()
	var built config.Config
	origApp, origLoad := newApp, loadConfig
	t.Cleanup(func() { newApp, loadConfig = origApp, origLoad })
	loadConfig = func(string) (config.Config, error) {
		return config.Config{Output: config.OutputConfig{Name: "results"}}, nil
	}
	newApp = func(_ context.Context, cfg config.Config) (App, error) {
		built = cfg
		return fake, nil
	}

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), built, err
}

func TestRunResumesByDefault(t *testing.T) {
	fake := &fakeApp{summary: sourcing.BatchRunSummary{
		RunID:    "run-1",
		Complete: 1,
		Items:    []sourcing.ItemOutcome{{Key: "5306003733291", Status: sourcing.ItemComplete}},
	}}
	out, cfg, err := execute(t, fake, "run", "--nsns", "5306-00-373-3291, 5306003733291", "--output-name", "run1")
	require.NoError(t, err)
	require.True(t, fake.resume)
	require.True(t, fake.closed)
	require.Equal(t, []string{"5306-00-373-3291", "5306003733291"}, fake.inputs)
	require.Equal(t, "run1", cfg.Output.Name)
	require.Contains(t, out, "5306003733291")
	require.Contains(t, out, "run run-1: 1 complete, 0 failed, 0 skipped")
}

func TestRunReadsFileAndForces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nsns.txt")
	require.NoError(t, os.WriteFile(path, []byte("5306-00-373-3291\n\n5310-01-234-5678\n"), 0o600))

	fake := &fakeApp{summary: sourcing.BatchRunSummary{RunID: "run-2", Interrupted: true}}
	out, cfg, err := execute(t, fake, "run", "--file", path, "--force", "--quiet")
	require.NoError(t, err)
	require.False(t, fake.resume)
	require.Equal(t, []string{"5306-00-373-3291", "5310-01-234-5678"}, fake.inputs)
	require.Equal(t, "results", cfg.Output.Name)
	require.NotContains(t, out, "----")
	require.Contains(t, out, "rerun the same command to resume")
}

func TestRunRequiresInput(t *testing.T) {
	_, _, err := execute(t, &fakeApp{}, "run")
	require.ErrorContains(t, err, "[nsns file date]")

	_, _, err = execute(t, &fakeApp{}, "run", "--nsns", " , ")
	require.ErrorContains(t, err, "no NSNs found")

	_, _, err = execute(t, &fakeApp{}, "run", "--file", filepath.Join(t.TempDir(), "missing.txt"))
	require.ErrorContains(t, err, "read nsn file")
}

var januaryListings = dibbs.DateListings{
	Date:         "01-15-2026",
	TotalPages:   3,
	PagesScraped: 2,
	Listings: []dibbs.Listing{
		{NSN: nsn.MustParse("5306003733291"), PartNumber: "5306-00-373-3291", Solicitation: "SPE7L1-26-T-0001", Quantity: 10},
		{PartNumber: "MS90725-60", Solicitation: "SPE7L1-26-T-0002", Quantity: 2},
	},
}

func TestRunByDate(t *testing.T) {
	fake := &fakeApp{listings: januaryListings}
	_, _, err := execute(t, fake, "run", "--date", "2026-01-15", "--max-pages", "2", "--nsns", "5310-01-234-5678")
	require.NoError(t, err)
	require.Equal(t, "2026-01-15", fake.gotDate)
	require.Equal(t, 2, fake.gotPages)
	require.Equal(t, []string{"5310-01-234-5678", "5306-00-373-3291"}, fake.inputs)

	fake = &fakeApp{listings: dibbs.DateListings{Date: "01-16-2026"}}
	_, _, err = execute(t, fake, "run", "--date", "01-16-2026")
	require.ErrorContains(t, err, "no NSNs found")

	fake = &fakeApp{dateErr: dibbs.ErrInvalidDate}
	_, _, err = execute(t, fake, "run", "--date", "someday")
	require.ErrorIs(t, err, dibbs.ErrInvalidDate)
	require.Nil(t, fake.inputs)
	require.True(t, fake.closed)
}

func TestDates(t *testing.T) {
	fake := &fakeApp{dates: []string{"01-16-2026", "01-15-2026"}}
	out, _, err := execute(t, fake, "dates")
	require.NoError(t, err)
	require.Equal(t, "01-16-2026\n01-15-2026\n", out)
	require.True(t, fake.closed)

	fake = &fakeApp{listings: januaryListings}
	out, _, err = execute(t, fake, "dates", "01-15-2026", "--max-pages", "2")
	require.NoError(t, err)
	require.Equal(t, 2, fake.gotPages)
	require.Contains(t, out, "SPE7L1-26-T-0002")
	require.Contains(t, out, "01-15-2026: 2 open listings, 1 NSNs, 2 of 3 pages")

	_, _, err = execute(t, &fakeApp{dateErr: errors.New("dibbs source is disabled")}, "dates")
	require.ErrorContains(t, err, "load dibbs dates: dibbs source is disabled")
}

func TestRunReportsAbort(t *testing.T) {
	fake := &fakeApp{err: errors.New("rate limiter breach")}
	out, _, err := execute(t, fake, "run", "--nsns", "5306003733291")
	require.ErrorContains(t, err, "batch aborted: rate limiter breach")
	require.Contains(t, out, "0 complete")
	require.True(t, fake.closed)
}

func TestServe(t *testing.T) {
	fake := &fakeApp{}
	_, _, err := execute(t, fake, "serve")
	require.NoError(t, err)
	require.True(t, fake.served)
	require.True(t, fake.closed)
}

func TestValidate(t *testing.T) {
	fake := &fakeApp{}
	out, _, err := execute(t, fake, "validate", "5306003733291", "5310 01 234 5678")
	require.NoError(t, err)
	require.Contains(t, out, "5306-00-373-3291\t5306003733291")
	require.Contains(t, out, "5310-01-234-5678\t5310012345678")
	require.False(t, fake.closed)

	out, _, err = execute(t, fake, "validate", "12345")
	require.ErrorContains(t, err, "1 of 1 NSNs are invalid")
	require.Contains(t, out, "12345\tinvalid")
}

func TestConfigLoadFailure(t *testing.T) {
	origLoad := loadConfig
	t.Cleanup(func() { loadConfig = origLoad })
	loadConfig = func(string) (config.Config, error) { return config.Config{}, errors.New("bad port") }

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--nsns", "5306003733291"})
	require.ErrorContains(t, root.ExecuteContext(context.Background()), "load config: bad port")
}
