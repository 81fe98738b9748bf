package statusapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiwa/lockstep/internal/metrics"
	"github.com/shiwa/lockstep/internal/motor"
	"github.com/shiwa/lockstep/internal/schedule"
	"github.com/shiwa/lockstep/internal/session"
)

type fakeNode struct{ st session.Status }

func (f fakeNode) Status() session.Status { return f.st }

type fakeMotor struct{}

func (fakeMotor) State() motor.State { return motor.Armed }
func (fakeMotor) Executed() uint64   { return 7 }
func (fakeMotor) Failures() uint64   { return 1 }

func newTestServer(t *testing.T) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	m.Enable(false)
	node := fakeNode{st: session.Status{Role: session.RoleSecondary, Connected: true, State: "RUNNING", QueueLen: 3}}
	s, err := New(node, m, WithMotor(fakeMotor{}), WithPushInterval(10*time.Millisecond))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, m
}

func TestNew_RequiresSources(t *testing.T) {
	_, err := New(nil, metrics.New())
	assert.Error(t, err)
	_, err = New(fakeNode{}, nil)
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	ts, m := newTestServer(t)
	m.RecordDrift(schedule.Activate, 0, 1500)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var rep Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, session.RoleSecondary, rep.Session.Role)
	assert.Equal(t, 3, rep.Session.QueueLen)
	require.NotNil(t, rep.Motor)
	assert.Equal(t, "ARMED", rep.Motor.State)
	assert.Equal(t, uint64(7), rep.Motor.Executed)
	assert.Equal(t, uint64(1), rep.Metrics.Late)
}

func TestStatus_WrongMethod(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/status", "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsReportAndActions(t *testing.T) {
	ts, m := newTestServer(t)
	m.RecordRTT(4000)

	resp, err := http.Get(ts.URL + "/metrics/report")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "rtt: 1 samples")

	resp, err = http.Post(ts.URL+"/metrics/reset", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, m.Snapshot().RTTSamples)

	resp, err = http.Post(ts.URL+"/metrics/disable", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.False(t, m.Enabled())

	resp, err = http.Post(ts.URL+"/metrics/enable?verbose=1", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.True(t, m.Enabled())

	resp, err = http.Post(ts.URL+"/metrics/explode", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStream(t *testing.T) {
	ts, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	for i := 0; i < 2; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var rep Report
		require.NoError(t, conn.ReadJSON(&rep))
		assert.True(t, rep.Session.Connected)
	}
}

func TestRun_DisabledWithoutListen(t *testing.T) {
	s, err := New(fakeNode{}, metrics.New())
	require.NoError(t, err)
	assert.NoError(t, s.Run(context.Background(), ""))
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, err := New(fakeNode{}, metrics.New())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "127.0.0.1:0") }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop")
	}
}
