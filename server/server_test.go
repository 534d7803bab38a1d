package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turkycat/remote-wiring-experience/gateway"
	"github.com/turkycat/remote-wiring-experience/hardware"
	"github.com/turkycat/remote-wiring-experience/hardware/gpio"
	"github.com/turkycat/remote-wiring-experience/internal/panel"
	"github.com/turkycat/remote-wiring-experience/journal"
	"github.com/turkycat/remote-wiring-experience/store"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var simUno = hardware.Config{Board: "uno", Sim: &hardware.SimConfig{Buffer: 16}}

func newTestServer(t *testing.T, fallback hardware.Config) (*Server, *httptest.Server) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	st, err := store.OpenBBolt(filepath.Join(t.TempDir(), "panel.db"), 0600, nil)
	require.NoError(t, err)

	j, err := journal.Open("", logger)
	require.NoError(t, err)

	s := &Server{
		Store:    st,
		Journal:  j,
		Hardware: fallback,
		Logger:   logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Init(ctx))

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		s.gatewayManager.Close()
		j.Close()
		st.Close()
	})

	return s, ts
}

func do(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()

	var rd io.Reader
	if body != nil {
		if raw, ok := body.(string); ok {
			rd = strings.NewReader(raw)
		} else {
			buf, err := json.Marshal(body)
			require.NoError(t, err)
			rd = bytes.NewReader(buf)
		}
	}

	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	if out != nil && res.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}

	return res.StatusCode
}

func TestGetPins(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	var pins []gateway.Pin
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/pins", nil, &pins))
	require.Len(t, pins, 20)
	assert.True(t, pins[0].Reserved)
	assert.Equal(t, gpio.Unset, pins[5].Mode)

	var pin gateway.Pin
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/pins/A0", nil, &pin))
	assert.Equal(t, 14, pin.Number)
	assert.Equal(t, hardware.AnalogCapable, pin.Kind)

	var resp errorResponse
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/pins/A9", nil, &resp))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/pins/20", nil, &resp))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/pins/led", nil, &resp))
}

func TestDriveOutput(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	var pin gateway.Pin
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/13/mode", `{"mode":"output"}`, &pin))
	assert.Equal(t, gpio.Output, pin.Mode)
	assert.Equal(t, gpio.Low, pin.Level)

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/13/level", levelRequest{Level: gpio.High}, &pin))
	assert.Equal(t, gpio.High, pin.Level)
}

func TestErrorStatuses(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		notice string
	}{
		{
			name:   "reserved",
			path:   "/pins/0/mode",
			body:   `{"mode":"output"}`,
			status: http.StatusForbidden,
			notice: "That pin is in use as a serial pin and cannot be used.",
		},
		{
			name:   "unsupported",
			path:   "/pins/2/mode",
			body:   `{"mode":"pwm"}`,
			status: http.StatusConflict,
			notice: "That pin does not support PWM.",
		},
		{
			name:   "invalid",
			path:   "/pins/2/level",
			body:   `{"level":true}`,
			status: http.StatusConflict,
			notice: "You must first set this pin to OUTPUT.",
		},
		{
			name:   "unknown mode",
			path:   "/pins/2/mode",
			body:   `{"mode":"servo"}`,
			status: http.StatusUnprocessableEntity,
		},
		{
			name:   "missing duty",
			path:   "/pins/3/duty",
			body:   `{}`,
			status: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp errorResponse
			assert.Equal(t, tt.status, do(t, http.MethodPut, ts.URL+tt.path, tt.body, &resp))
			assert.NotEmpty(t, resp.Error)
			if tt.notice != "" {
				assert.Equal(t, tt.notice, resp.Notice)
			}
		})
	}
}

func TestDutyAcceptsPanelText(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	var pin gateway.Pin
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/9/mode", `{"mode":"PWM"}`, &pin))

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/9/duty", `{"text":"0x80"}`, &pin))
	assert.Equal(t, 128, pin.Duty)

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/9/duty", `{"duty":400}`, &pin))
	assert.Equal(t, 255, pin.Duty)

	var resp errorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, http.MethodPut, ts.URL+"/pins/9/duty", `{"text":"-3"}`, &resp))
}

func TestHistory(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/6/mode", `{"mode":"pwm"}`, nil))
	for _, duty := range []int{10, 20, 30} {
		require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/6/duty", dutyRequest{Duty: &duty}, nil))
	}

	var changes []gateway.Change
	require.Eventually(t, func() bool {
		changes = nil
		return do(t, http.MethodGet, ts.URL+"/pins/6/history?limit=2", nil, &changes) == http.StatusOK &&
			len(changes) == 2 && changes[1].Pin.Duty == 30
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 20, changes[0].Pin.Duty)

	var resp errorResponse
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, ts.URL+"/pins/6/history?limit=x", nil, &resp))
	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/pins/30/history", nil, &resp))
}

func TestLabelsReachPanelAndStore(t *testing.T) {
	s, ts := newTestServer(t, simUno)

	var view panel.View
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/A2/label", labelRequest{Label: "light sensor"}, &view))
	assert.Equal(t, "light sensor", view.Label)
	assert.Equal(t, 16, view.Pin)

	labels, err := s.Store.Labels()
	require.NoError(t, err)
	assert.Equal(t, map[int]string{16: "light sensor"}, labels)

	var views []panel.View
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/panel", nil, &views))
	require.Len(t, views, 20)
	assert.Equal(t, "light sensor", views[16].Label)
	assert.Equal(t, "Disabled for serial connection.", views[1].Text)
}

func TestPanelFollowsRequests(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/7/mode", `{"mode":"output"}`, nil))
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/7/level", `{"level":true}`, nil))

	require.Eventually(t, func() bool {
		var views []panel.View
		do(t, http.MethodGet, ts.URL+"/panel", nil, &views)
		return len(views) == 20 && views[7].Text == "5v"
	}, time.Second, 10*time.Millisecond)
}

func TestEvents(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events", nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/4/mode", `{"mode":"input"}`, nil))

	scanner := bufio.NewScanner(res.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var change gateway.Change
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &change))
		assert.Equal(t, 4, change.Pin.Number)
		assert.Equal(t, gpio.Input, change.Pin.Mode)
		return
	}

	t.Fatalf("event stream ended: %v", scanner.Err())
}

func TestHardwareAndReconnect(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	var config hardware.Config
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/hardware", nil, &config))
	assert.Equal(t, simUno, config)

	var resp errorResponse
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, http.MethodPut, ts.URL+"/hardware", `{"board":"uno"}`, &resp))
	assert.Equal(t, http.StatusUnprocessableEntity, do(t, http.MethodPut, ts.URL+"/hardware", `{"board":"due","sim":{}}`, &resp))

	mega := hardware.Config{Board: "mega2560", Sim: &hardware.SimConfig{Buffer: 8}}
	require.Equal(t, http.StatusNoContent, do(t, http.MethodPut, ts.URL+"/hardware", mega, nil))

	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/5/mode", `{"mode":"output"}`, nil))
	require.Equal(t, http.StatusNoContent, do(t, http.MethodPost, ts.URL+"/rpc/reconnect", nil, nil))

	var pins []gateway.Pin
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/pins", nil, &pins))
	assert.Len(t, pins, 70)
	assert.Equal(t, gpio.Unset, pins[5].Mode)

	var views []panel.View
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/panel", nil, &views))
	assert.Len(t, views, 70)
}

func TestWithoutBoard(t *testing.T) {
	_, ts := newTestServer(t, hardware.Config{})

	var resp errorResponse
	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, ts.URL+"/pins", nil, &resp))
	assert.Equal(t, "The board is not connected.", resp.Notice)

	assert.Equal(t, http.StatusNotFound, do(t, http.MethodGet, ts.URL+"/hardware", nil, &resp))
	assert.Equal(t, http.StatusConflict, do(t, http.MethodPost, ts.URL+"/rpc/reconnect", nil, &resp))

	var views []panel.View
	require.Equal(t, http.StatusOK, do(t, http.MethodGet, ts.URL+"/panel", nil, &views))
	assert.Empty(t, views)
}

func TestReconnectBreaker(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	// nothing listens on port 1
	unreachable := hardware.Config{Board: "uno", Pigpio: &hardware.PigpioConfig{Addr: "127.0.0.1:1"}}
	require.Equal(t, http.StatusNoContent, do(t, http.MethodPut, ts.URL+"/hardware", unreachable, nil))

	var resp errorResponse
	for i := 0; i < int(defaultReconnectFailures); i++ {
		assert.Equal(t, http.StatusBadGateway, do(t, http.MethodPost, ts.URL+"/rpc/reconnect", nil, &resp))
	}

	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodPost, ts.URL+"/rpc/reconnect", nil, &resp))
	assert.Contains(t, resp.Error, "circuit breaker is open")

	assert.Equal(t, http.StatusServiceUnavailable, do(t, http.MethodGet, ts.URL+"/pins", nil, &resp))
}

func TestSocket(t *testing.T) {
	_, ts := newTestServer(t, simUno)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	next := func() socketFrame {
		var frame socketFrame
		require.NoError(t, wsjson.Read(ctx, conn, &frame))
		return frame
	}
	result := func(cmd socketCommand) socketFrame {
		require.NoError(t, wsjson.Write(ctx, conn, cmd))
		for {
			if frame := next(); frame.Type == frameResult && frame.ID == cmd.ID {
				return frame
			}
		}
	}

	frame := result(socketCommand{ID: 1, Op: "mode", Pin: "13", Mode: gpio.Output})
	require.Empty(t, frame.Error)
	assert.Equal(t, gpio.Output, frame.Pin.Mode)

	frame = result(socketCommand{ID: 2, Op: "level", Pin: "13", Level: gpio.High})
	require.Empty(t, frame.Error)
	assert.Equal(t, gpio.High, frame.Pin.Level)

	frame = result(socketCommand{ID: 3, Op: "mode", Pin: "0", Mode: gpio.Input})
	assert.Equal(t, "That pin is in use as a serial pin and cannot be used.", frame.Notice)

	frame = result(socketCommand{ID: 4, Op: "blink", Pin: "13"})
	assert.NotEmpty(t, frame.Error)

	// changes made elsewhere arrive too
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, ts.URL+"/pins/A1/mode", `{"mode":"analog"}`, nil))
	for {
		frame := next()
		if frame.Type == frameChange && frame.Change.Pin.Number == 15 {
			assert.Equal(t, gpio.Analog, frame.Change.Pin.Mode)
			assert.Equal(t, gateway.OriginRequest, frame.Change.Origin)
			break
		}
	}
}

func TestPortOf(t *testing.T) {
	port, err := portOf(":8080")
	require.NoError(t, err)
	assert.Equal(t, 8080, port)

	_, err = portOf(":0")
	assert.Error(t, err)
	_, err = portOf("localhost")
	assert.Error(t, err)
}

func TestStoppingReleasesSubscriptions(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	hook := logtest.NewLocal(logger)

	st, err := store.OpenBBolt(filepath.Join(t.TempDir(), "panel.db"), 0600, nil)
	require.NoError(t, err)
	defer st.Close()

	j, err := journal.Open("", logger)
	require.NoError(t, err)
	defer j.Close()

	s := &Server{Store: st, Journal: j, Hardware: simUno, Logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Init(ctx))
	defer s.gatewayManager.Close()

	require.NoError(t, s.gatewayManager.View(func(g *gateway.Gateway) error {
		return g.SetMode(13, gpio.Output)
	}))

	// the panel and the journal stop following the board
	cancel()

	// more changes than any queue holds: once nobody is subscribed, nothing
	// gets dropped
	require.Eventually(t, func() bool {
		hook.Reset()

		err := s.gatewayManager.View(func(g *gateway.Gateway) error {
			for i := 0; i <= 2*gateway.DefaultBuffer; i++ {
				if err := g.DigitalWrite(13, i%2 == 0); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)

		for _, entry := range hook.AllEntries() {
			if entry.Level == logrus.WarnLevel && strings.Contains(entry.Message, "queue full") {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)
}
