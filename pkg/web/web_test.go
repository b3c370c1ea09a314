package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-posemusic/internal/log"
	"github.com/teslashibe/go-posemusic/pkg/camera"
	"github.com/teslashibe/go-posemusic/pkg/hub"
	"github.com/teslashibe/go-posemusic/pkg/loop"
	"github.com/teslashibe/go-posemusic/pkg/mapping"
	"github.com/teslashibe/go-posemusic/pkg/protocol"
	"github.com/teslashibe/go-posemusic/pkg/settings"
)

type fakeController struct {
	mu         sync.Mutex
	config     loop.Config
	perf       loop.Perf
	tier       string
	background bool
	render     *bool
	stopped    bool
	done       chan struct{}
}

func newFake() *fakeController {
	return &fakeController{
		config: loop.DefaultConfig(),
		perf:   loop.Perf{FPS: 24, Skip: 2, Tier: "720p"},
		done:   make(chan struct{}),
	}
}

func (f *fakeController) Status() loop.Perf {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.perf
	p.Background = f.background
	return p
}

func (f *fakeController) Config() loop.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.config
}

func (f *fakeController) Update(fn func(c *loop.Config)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return loop.ErrStopped
	}
	next := f.config
	fn(&next)
	f.config = next
	return nil
}

func (f *fakeController) SetMode(mode mapping.Mode) error {
	return f.Update(func(c *loop.Config) { c.Mapping.Mode = mode })
}

func (f *fakeController) SetTier(name string) error {
	switch name {
	case "low", "720p", "1080p":
		f.mu.Lock()
		f.tier = name
		f.mu.Unlock()
		return nil
	}
	return loop.ErrUnknownTier
}

func (f *fakeController) SetBackground(on bool) {
	f.mu.Lock()
	f.background = on
	f.mu.Unlock()
}

func (f *fakeController) SetRenderEnabled(on bool) {
	f.mu.Lock()
	f.render = &on
	f.mu.Unlock()
}

func (f *fakeController) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.done)
	}
}

func (f *fakeController) Done() <-chan struct{} { return f.done }

func do(t *testing.T, s *Server, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestStatus(t *testing.T) {
	ctrl := newFake()
	s := NewServer(Config{Session: "abc"}, ctrl, log.Nop())

	code, body := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)

	var st protocol.StatusData
	require.NoError(t, json.Unmarshal(body, &st))
	assert.True(t, st.Running)
	assert.Equal(t, string(mapping.DefaultMode), st.Mode)
	assert.Equal(t, "abc", st.Session)
	assert.Equal(t, 2, st.Perf.Skip)
	assert.Equal(t, "720p", st.Perf.Tier)

	ctrl.Stop()
	_, body = do(t, s, http.MethodGet, "/api/status", "")
	require.NoError(t, json.Unmarshal(body, &st))
	assert.False(t, st.Running)
}

func TestSetMode(t *testing.T) {
	ctrl := newFake()
	s := NewServer(Config{}, ctrl, log.Nop())

	code, _ := do(t, s, http.MethodPost, "/api/mode/percussive", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, mapping.ModePercussive, ctrl.Config().Mapping.Mode)

	code, body := do(t, s, http.MethodPost, "/api/mode/theremin", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, string(body), "unknown mode")
	assert.Equal(t, mapping.ModePercussive, ctrl.Config().Mapping.Mode)
}

func TestSetModeAfterStop(t *testing.T) {
	ctrl := newFake()
	s := NewServer(Config{}, ctrl, log.Nop())

	code, _ := do(t, s, http.MethodPost, "/api/stop", "")
	require.Equal(t, http.StatusOK, code)

	code, _ = do(t, s, http.MethodPost, "/api/mode/percussive", "")
	assert.Equal(t, http.StatusConflict, code)
}

func TestPutSettings(t *testing.T) {
	ctrl := newFake()
	path := filepath.Join(t.TempDir(), "settings.json")
	s := NewServer(Config{SettingsPath: path}, ctrl, log.Nop())

	notified := false
	s.OnSettings = func() { notified = true }

	code, _ := do(t, s, http.MethodPut, "/api/settings", `{"scale":"blues","root":62,"tier":"low"}`)
	require.Equal(t, http.StatusAccepted, code)
	assert.True(t, notified)

	cfg := ctrl.Config()
	assert.Equal(t, "blues", cfg.Mapping.Scale)
	assert.Equal(t, 62, cfg.Mapping.Root)
	assert.Equal(t, "low", ctrl.tier)

	saved, err := settings.Load(path)
	require.NoError(t, err)
	require.NotNil(t, saved.Root)
	assert.Equal(t, 62, *saved.Root)

	// A second update keeps what the first one persisted.
	code, _ = do(t, s, http.MethodPut, "/api/settings", `{"min_skip":2}`)
	require.Equal(t, http.StatusAccepted, code)
	saved, err = settings.Load(path)
	require.NoError(t, err)
	require.NotNil(t, saved.Root)
	require.NotNil(t, saved.MinSkip)
	assert.Equal(t, 2, *saved.MinSkip)
}

func TestPutSettingsRejectsBadInput(t *testing.T) {
	ctrl := newFake()
	s := NewServer(Config{}, ctrl, log.Nop())
	before := ctrl.Config()

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"scale":`},
		{"unknown field", `{"volume":11}`},
		{"bad skip", `{"min_skip":0}`},
		{"unknown tier", `{"tier":"8k"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _ := do(t, s, http.MethodPut, "/api/settings", tt.body)
			assert.Equal(t, http.StatusBadRequest, code)
		})
	}
	assert.Equal(t, before.Rate, ctrl.Config().Rate)
	assert.Empty(t, ctrl.tier)
}

func TestGetSettings(t *testing.T) {
	ctrl := newFake()
	s := NewServer(Config{}, ctrl, log.Nop())

	code, body := do(t, s, http.MethodGet, "/api/settings", "")
	require.Equal(t, http.StatusOK, code)

	got, err := settings.Parse(body)
	require.NoError(t, err)
	require.NotNil(t, got.Mode)
	assert.Equal(t, string(mapping.DefaultMode), *got.Mode)
	require.NotNil(t, got.Tier)
	assert.Equal(t, "720p", *got.Tier)
}

func TestSetTier(t *testing.T) {
	ctrl := newFake()
	s := NewServer(Config{}, ctrl, log.Nop())

	code, _ := do(t, s, http.MethodPost, "/api/tier/1080P", "")
	assert.Equal(t, http.StatusAccepted, code)
	assert.Equal(t, "1080p", ctrl.tier)

	code, _ = do(t, s, http.MethodPost, "/api/tier/8k", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestBackgroundAndRender(t *testing.T) {
	ctrl := newFake()
	s := NewServer(Config{}, ctrl, log.Nop())

	code, _ := do(t, s, http.MethodPost, "/api/background", `{"background":true}`)
	require.Equal(t, http.StatusOK, code)
	assert.True(t, ctrl.Status().Background)

	code, _ = do(t, s, http.MethodPost, "/api/background", `{}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, s, http.MethodPost, "/api/render", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, ctrl.render)
	assert.False(t, *ctrl.render)
}

func TestModes(t *testing.T) {
	s := NewServer(Config{}, newFake(), log.Nop())
	code, body := do(t, s, http.MethodGet, "/api/modes", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), string(mapping.ModeDualAxis))
	assert.Contains(t, string(body), "pentatonic")
}

func TestEventsAreKeptAndBroadcast(t *testing.T) {
	s := NewServer(Config{}, newFake(), log.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.StartHubs(ctx)

	sub, err := hub.Subscribe(ctx, s.eventHub, 8)
	require.NoError(t, err)
	defer sub.Close()

	hooks := s.Hooks()
	hooks.OnEvent(loop.Event{At: time.Unix(1, 0), Kind: loop.EventEscalated, Detail: "skip 2"})
	hooks.OnEvent(loop.Event{At: time.Unix(2, 0), Kind: loop.EventBackground, Detail: "true"})

	select {
	case msg := <-sub.Messages():
		m, err := protocol.ParseMessage(msg.Data)
		require.NoError(t, err)
		require.Equal(t, protocol.TypeEvent, m.Type)
		assert.Equal(t, int64(1000), m.Timestamp)
		var e protocol.EventData
		require.NoError(t, m.ParseData(&e))
		assert.Equal(t, loop.EventEscalated, e.Kind)
	case <-time.After(time.Second):
		t.Fatal("no event broadcast")
	}

	// A dashboard connecting now still gets the status.
	late, err := hub.Subscribe(ctx, s.eventHub, 8)
	require.NoError(t, err)
	defer late.Close()
	require.Eventually(t, func() bool {
		select {
		case msg := <-late.Messages():
			m, err := protocol.ParseMessage(msg.Data)
			return err == nil && m.Type == protocol.TypeStatus
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	code, body := do(t, s, http.MethodGet, "/api/events?kind=background", "")
	require.Equal(t, http.StatusOK, code)
	var events []loop.Event
	require.NoError(t, json.Unmarshal(body, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "true", events[0].Detail)
}

func TestEventRingIsBounded(t *testing.T) {
	s := NewServer(Config{}, newFake(), log.Nop())
	for i := 0; i < maxEvents+10; i++ {
		s.addEvent(loop.Event{Kind: loop.EventTierChange})
	}
	assert.Len(t, s.events, maxEvents)
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := NewServer(Config{}, newFake(), log.Nop())
	code, _ := do(t, s, http.MethodGet, "/ws/perf", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func TestUnboundController(t *testing.T) {
	s := NewServer(Config{}, nil, log.Nop())
	code, _ := do(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	s.SetController(newFake())
	code, _ = do(t, s, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusOK, code)
}

func TestStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>posemusic</html>"), 0o644))
	s := NewServer(Config{StaticDir: dir}, newFake(), log.Nop())

	code, body := do(t, s, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), "posemusic")
}

func TestCamera(t *testing.T) {
	cams := camera.NewManager(camera.DefaultConfig())
	var applied []camera.Config
	cams.OnConfigChange = func(cfg camera.Config) error {
		applied = append(applied, cfg)
		return nil
	}
	s := NewServer(Config{Camera: cams}, newFake(), log.Nop())

	code, body := do(t, s, http.MethodPut, "/api/camera", `{"quality":55,"mirror":false}`)
	require.Equal(t, http.StatusOK, code)
	var got camera.Config
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 55, got.Quality)
	assert.False(t, got.Mirror)
	require.Len(t, applied, 1)

	code, _ = do(t, s, http.MethodPut, "/api/camera", `{"framerate":500}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Len(t, applied, 1)

	code, body = do(t, s, http.MethodGet, "/api/camera", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), camera.Preset1080p)
}

func TestCameraMissing(t *testing.T) {
	s := NewServer(Config{}, newFake(), log.Nop())
	code, _ := do(t, s, http.MethodGet, "/api/camera", "")
	assert.Equal(t, http.StatusNotFound, code)
}
