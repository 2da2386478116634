package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spirit-labs/tekagg/conf"
	"github.com/spirit-labs/tekagg/errors"
	"github.com/stretchr/testify/require"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(CacheLookups.WithLabelValues("miss"))
	CacheLookups.WithLabelValues("miss").Inc()
	require.Equal(t, before+1, testutil.ToFloat64(CacheLookups.WithLabelValues("miss")))
}

func TestStopBeforeStart(t *testing.T) {
	s := NewServer(conf.Config{MetricsBind: "localhost:0"})
	require.Nil(t, s.Addr())
	require.NoError(t, s.Stop())
}

func TestServerExposesMetrics(t *testing.T) {
	s := NewServer(conf.Config{MetricsBind: "localhost:0", MetricsEnabled: true})
	require.NoError(t, s.Start())
	defer func() {
		require.NoError(t, s.Stop())
	}()
	MergeSourceFailures.Inc()
	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", s.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), "tekagg_merge_source_failures_total"))
}

func TestStartReportsAddressInUse(t *testing.T) {
	first := NewServer(conf.Config{MetricsBind: "localhost:0"})
	require.NoError(t, first.Start())
	defer func() {
		require.NoError(t, first.Stop())
	}()
	second := NewServer(conf.Config{MetricsBind: first.Addr().String()})
	err := second.Start()
	require.Error(t, err)
	require.True(t, errors.IsTekaggErrorWithCode(err, errors.Unavailable))
	require.NoError(t, second.Stop())
}

func TestHandlerServesRegisteredCounters(t *testing.T) {
	RowsScanned.Add(3)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "tekagg_groupby_rows_scanned_total")
}
