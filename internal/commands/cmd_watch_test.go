package commands

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/shopwire/internal/core/notify"
	"github.com/colonyops/shopwire/internal/core/transport/memtransport"
	"github.com/colonyops/shopwire/pkg/iojson"
)

func watchWith(t *testing.T, frames []string, args ...string) (string, error) {
	t.Helper()
	flags := defaultFlags()
	tr := memtransport.New()

	cmd := NewWatchCmd(flags)
	cmd.transport = tr

	go func() {
		conn := tr.WaitForConn(1, 2*time.Second)
		if conn == nil {
			return
		}
		for _, f := range frames {
			conn.Push(f)
		}
	}()

	return runApp(t, cmd.Register, append([]string{"watch", "--for", "300ms"}, args...)...)
}

func TestWatch_JSON(t *testing.T) {
	out, err := watchWith(t, []string{
		`{"type":"system_alert","data":{"level":"error","title":"Printer","message":"offline"},"timestamp":1000}`,
		`{"type":"sale_created","data":{"id":3,"total_amount":10},"timestamp":2000}`,
	}, "--json")
	require.NoError(t, err)

	items, err := iojson.DecodeAll[notify.Notification](strings.NewReader(out))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, notify.LevelError, items[0].Level)
	assert.Equal(t, notify.CategorySales, items[1].Category)
}

func TestWatch_CategoryFilter(t *testing.T) {
	out, err := watchWith(t, []string{
		`{"type":"system_alert","data":{"level":"warning","title":"Disk","message":"almost full"},"timestamp":1000}`,
		`{"type":"customer_created","data":{"id":8,"name":"Grace"},"timestamp":2000}`,
	}, "--category", "customers")
	require.NoError(t, err)

	assert.Contains(t, out, "connected")
	assert.Contains(t, out, "customers")
	assert.NotContains(t, out, "almost full")
}

func TestMetricsMux(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "shopwire_test_total"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := httptest.NewServer(metricsMux(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "shopwire_test_total 1")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTermBell_SilentWhenNotTerminal(t *testing.T) {
	var buf strings.Builder
	newTermBell(&buf).Ring(notify.LevelError)
	assert.Empty(t, buf.String())
}
