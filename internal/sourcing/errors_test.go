package sourcing

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"syscall"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "canceled", err: context.Canceled, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "net timeout", err: fmt.Errorf("dial: %w", timeoutErr{}), want: true},
		{name: "reset", err: fmt.Errorf("read: %w", syscall.ECONNRESET), want: true},
		{name: "eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "plain", err: errors.New("boom"), want: false},
		{name: "marked transient", err: errors.Mark(errors.New("flaky"), ErrTransient), want: true},
		{name: "invalid input", err: errors.Mark(errors.New("bad nsn"), ErrInvalidInput), want: false},
		{name: "breach", err: errors.Wrap(ErrRateLimiterBreach, "enrich"), want: false},
		{name: "503", err: ConnectorErrorFromStatus(SourceDIBBS, http.StatusServiceUnavailable), want: true},
		{name: "429", err: ConnectorErrorFromStatus(SourceDIBBS, http.StatusTooManyRequests), want: true},
		{name: "404", err: ConnectorErrorFromStatus(SourceDIBBS, http.StatusNotFound), want: false},
		{name: "400", err: ConnectorErrorFromStatus(SourceDIBBS, http.StatusBadRequest), want: false},
		{name: "408", err: ConnectorErrorFromStatus(SourceDIBBS, http.StatusRequestTimeout), want: false},
		{name: "timeout kind with 4xx", err: NewConnectorError(SourceWBParts, KindTimeout, http.StatusConflict, nil), want: false},
		{name: "enricher 408", err: NewEnricherError(EnricherUnknown, http.StatusRequestTimeout, nil), want: false},
		{name: "enricher 429", err: NewEnricherError(EnricherRateLimited, http.StatusTooManyRequests, nil), want: true},
		{name: "wrapped 502", err: fmt.Errorf("fetch: %w", ConnectorErrorFromStatus(SourceWBParts, http.StatusBadGateway)), want: true},
		{name: "enricher auth", err: NewEnricherError(EnricherAuthInvalid, http.StatusUnauthorized, nil), want: false},
		{name: "enricher down", err: NewEnricherError(EnricherServiceDown, http.StatusBadGateway, nil), want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}

func TestConnectorError_Classes(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrap: %w", ConnectorErrorFromStatus(SourceSAMGov, http.StatusGatewayTimeout))
	require.True(t, errors.Is(err, ErrTransient))
	require.False(t, errors.Is(err, ErrPermanent))
	require.Equal(t, KindTimeout, KindOf(err))
	require.Contains(t, err.Error(), "samgov: timeout (status 504)")

	perm := ConnectorErrorFromStatus(SourceSAMGov, http.StatusForbidden)
	require.True(t, errors.Is(perm, ErrPermanent))
	require.Equal(t, KindInvalid, perm.Kind)
	require.Equal(t, KindUnknown, KindOf(errors.New("x")))
	require.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
}

func TestEnricherKindFromStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, EnricherAuthInvalid, EnricherKindFromStatus(http.StatusForbidden))
	require.Equal(t, EnricherRateLimited, EnricherKindFromStatus(http.StatusTooManyRequests))
	require.Equal(t, EnricherServiceDown, EnricherKindFromStatus(http.StatusInternalServerError))
	require.Equal(t, EnricherUnknown, EnricherKindFromStatus(http.StatusTeapot))
}

func TestRetry_ClientTimeoutNotRetried(t *testing.T) {
	t.Parallel()

	calls := 0
	_, attempts, err := Retry(context.Background(), NoDelayRetryPolicy(3), nil, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, ConnectorErrorFromStatus(SourceDIBBS, http.StatusRequestTimeout)
	})
	require.Error(t, err)
	require.Equal(t, KindTimeout, KindOf(err))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, attempts)
}
