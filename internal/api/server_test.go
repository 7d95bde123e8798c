package api

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/reel/internal/metrics"
	"github.com/zsiec/reel/internal/session"
	"github.com/zsiec/reel/player"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// writeWAV writes d of silent mono 16-bit audio at 8 kHz.
func writeWAV(t *testing.T, d time.Duration) string {
	t.Helper()
	data := make([]byte, int(d.Seconds()*8000)*2)
	var hdr []byte
	hdr = append(hdr, "RIFF"...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(36+len(data)))
	hdr = append(hdr, "WAVEfmt "...)
	hdr = binary.LittleEndian.AppendUint32(hdr, 16)
	hdr = binary.LittleEndian.AppendUint16(hdr, 1)
	hdr = binary.LittleEndian.AppendUint16(hdr, 1)
	hdr = binary.LittleEndian.AppendUint32(hdr, 8000)
	hdr = binary.LittleEndian.AppendUint32(hdr, 16000)
	hdr = binary.LittleEndian.AppendUint16(hdr, 2)
	hdr = binary.LittleEndian.AppendUint16(hdr, 16)
	hdr = append(hdr, "data"...)
	hdr = binary.LittleEndian.AppendUint32(hdr, uint32(len(data)))

	path := filepath.Join(t.TempDir(), "silence.wav")
	require.NoError(t, os.WriteFile(path, append(hdr, data...), 0o600))
	return path
}

type fixture struct {
	srv      *Server
	sessions *session.Manager
	reg      *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	sessions := session.NewManager(nil)
	t.Cleanup(func() { _ = sessions.CloseAll() })
	srv := New(Config{
		Sessions: sessions,
		NewPlayer: func(key string, paths []string, s player.Settings) (*player.Player, error) {
			return player.New(paths, s, player.WithID(key), player.WithMetrics(m))
		},
		Defaults: player.DefaultSettings(),
		Gatherer: reg,
	})
	return &fixture{srv: srv, sessions: sessions, reg: reg}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeInfo(t *testing.T, w *httptest.ResponseRecorder) playerInfo {
	t.Helper()
	var info playerInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	return info
}

func TestHealth(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestCreateGetListDelete(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	path := writeWAV(t, time.Second)

	w := f.do(t, http.MethodPost, "/players", gin.H{"key": "one", "paths": []string{path}, "volume": 0.5})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	info := decodeInfo(t, w)
	assert.Equal(t, "one", info.Key)
	assert.Equal(t, "one", info.ID)
	assert.Equal(t, "initializing", info.State)
	assert.Equal(t, 0.5, info.Volume)

	w = f.do(t, http.MethodGet, "/players/one", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{path}, decodeInfo(t, w).Paths)

	w = f.do(t, http.MethodGet, "/players", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Players []playerInfo `json:"players"`
		Total   int          `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Total)

	w = f.do(t, http.MethodDelete, "/players/one", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = f.do(t, http.MethodGet, "/players/one", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodDelete, "/players/one", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateGeneratesKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	w := f.do(t, http.MethodPost, "/players", gin.H{"paths": []string{"a.wav"}})
	require.Equal(t, http.StatusCreated, w.Code)
	key := decodeInfo(t, w).Key
	assert.NotEmpty(t, key)
	_, ok := f.sessions.Get(key)
	assert.True(t, ok)
}

func TestCreateRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/players", gin.H{"key": "k"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "paths are required")

	w = f.do(t, http.MethodPost, "/players", gin.H{"key": "k", "paths": []string{"a.wav"}, "volume": 2})
	assert.Equal(t, http.StatusBadRequest, w.Code, "volume out of range")

	w = f.do(t, http.MethodPost, "/players", gin.H{"key": "k", "paths": []string{"a.wav"}})
	require.Equal(t, http.StatusCreated, w.Code)
	w = f.do(t, http.MethodPost, "/players", gin.H{"key": "k", "paths": []string{"a.wav"}})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestControlLifecycle(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	path := writeWAV(t, 2*time.Second)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/players", gin.H{"key": "p", "paths": []string{path}}).Code)

	w := f.do(t, http.MethodPost, "/players/p/seek", gin.H{"position_ms": 500})
	assert.Equal(t, http.StatusConflict, w.Code, "seek before the stream is opened")

	w = f.do(t, http.MethodPost, "/players/p/play", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Eventually(t, func() bool {
		var info playerInfo
		w := f.do(t, http.MethodGet, "/players/p", nil)
		return json.Unmarshal(w.Body.Bytes(), &info) == nil && info.State == "playing"
	}, 5*time.Second, 5*time.Millisecond)

	w = f.do(t, http.MethodPost, "/players/p/pause", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pause", decodeInfo(t, w).State)

	info := decodeInfo(t, f.do(t, http.MethodGet, "/players/p", nil))
	assert.True(t, info.HasAudio)
	assert.Equal(t, 8000, info.SampleRate)
	assert.Equal(t, int64(2000), info.DurationMS)

	w = f.do(t, http.MethodPost, "/players/p/seek", gin.H{"position_ms": 1000, "accurate": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/players/p/seek", gin.H{"accurate": true})
	assert.Equal(t, http.StatusBadRequest, w.Code, "position is required")

	w = f.do(t, http.MethodPost, "/players/p/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "stop", decodeInfo(t, w).State)
}

func TestSetters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/players", gin.H{"key": "p", "paths": []string{"a.wav"}}).Code)

	w := f.do(t, http.MethodPut, "/players/p/volume", gin.H{"volume": 0.25})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.25, decodeInfo(t, w).Volume)

	w = f.do(t, http.MethodPut, "/players/p/volume", gin.H{"volume": -1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = f.do(t, http.MethodPut, "/players/p/volume", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPut, "/players/p/mute", gin.H{"mute": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeInfo(t, w).Mute)

	w = f.do(t, http.MethodPut, "/players/p/loop", gin.H{"loop": true})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeInfo(t, w).Loop)

	w = f.do(t, http.MethodPut, "/players/missing/loop", gin.H{"loop": true})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/players", gin.H{"key": "p", "paths": []string{"a.wav"}}).Code)

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "reel_"), w.Body.String())
}
