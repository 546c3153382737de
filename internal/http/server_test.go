package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"timebooth/internal/booth"
	"timebooth/internal/call"
	"timebooth/internal/ui"
	"timebooth/internal/voice"
)

type fakeBooths struct {
	err      error
	prepared int
}

func (f *fakeBooths) Scene(_ context.Context, req booth.SceneRequest) (booth.Scene, error) {
	if f.err != nil {
		return booth.Scene{}, f.err
	}
	if strings.TrimSpace(req.Location) == "" {
		return booth.Scene{}, fmt.Errorf("validate scene: %w: location is required", booth.ErrInvalidInput)
	}
	return booth.Scene{ID: uuid.New(), Year: req.Year, Location: req.Location, ImageURL: "https://img/" + req.Location}, nil
}

func (f *fakeBooths) Backstory(_ context.Context, year int, location string, persona booth.Persona) (booth.Backstory, error) {
	if f.err != nil {
		return booth.Backstory{}, f.err
	}
	if persona == "" {
		persona = booth.PersonaGirlfriend
	}
	return booth.Backstory{
		Year:         year,
		Location:     location,
		Persona:      persona,
		CombinedText: fmt.Sprintf("You are my %s living in %s in %d.", persona, location, year),
	}, nil
}

func (f *fakeBooths) Ringback(_ context.Context, year int) (booth.RingbackTone, error) {
	if f.err != nil {
		return booth.RingbackTone{}, f.err
	}
	bucket := booth.YearBucket(year)
	return booth.RingbackTone{YearBucket: bucket, AudioURL: fmt.Sprintf("https://audio/%d.mp3", bucket)}, nil
}

func (f *fakeBooths) Prepare(ctx context.Context, year int, location string, persona booth.Persona) (booth.Setup, error) {
	f.prepared++
	scene, err := f.Scene(ctx, booth.SceneRequest{Year: year, Location: location})
	if err != nil {
		return booth.Setup{}, err
	}
	story, _ := f.Backstory(ctx, year, location, persona)
	tone, _ := f.Ringback(ctx, year)
	return booth.Setup{Scene: scene, Backstory: story, Ringback: tone}, nil
}

func (f *fakeBooths) Years() booth.YearRange        { return booth.Between(1900, 2100) }
func (f *fakeBooths) DefaultPersona() booth.Persona { return booth.PersonaGirlfriend }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, booths *fakeBooths) (http.Handler, *call.Switchboard) {
	t.Helper()
	tmpl, err := ui.ParseTemplates()
	require.NoError(t, err)

	phones := call.NewSwitchboard(discardLogger(), voice.Factory{Kind: voice.KindMock}, call.Options{
		Delay: func() time.Duration { return 10 * time.Millisecond },
	})
	handler := NewServer(discardLogger(), Config{
		Booths:    booths,
		Phones:    phones,
		Templates: tmpl,
		Static:    ui.StaticFiles(),
	})
	return handler, phones
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestGenerationEndpoints(t *testing.T) {
	h, _ := newTestServer(t, &fakeBooths{})

	rec := doJSON(t, h, http.MethodPost, "/api/scenes", `{"year":1970,"location":"Tokyo, Japan"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://img/Tokyo, Japan", decodeBody(t, rec)["image_url"])

	rec = doJSON(t, h, http.MethodPost, "/api/backstories", `{"year":1920,"location":"Paris","persona":"homie"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "You are my homie living in Paris in 1920.", decodeBody(t, rec)["text"])

	rec = doJSON(t, h, http.MethodPost, "/api/ringback", `{"year":1973}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://audio/1970.mp3", decodeBody(t, rec)["audio_url"])
}

func TestErrorMapping(t *testing.T) {
	h, _ := newTestServer(t, &fakeBooths{})

	rec := doJSON(t, h, http.MethodPost, "/api/scenes", `{"year":1970,"location":"   "}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, decodeBody(t, rec)["error"], "location is required")

	rec = doJSON(t, h, http.MethodPost, "/api/scenes", `{"year":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	upstream, _ := newTestServer(t, &fakeBooths{err: fmt.Errorf("%w: fal: status 500", booth.ErrUpstream)})
	rec = doJSON(t, upstream, http.MethodPost, "/api/scenes", `{"year":1970,"location":"Tokyo"}`)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	broken, _ := newTestServer(t, &fakeBooths{err: io.ErrUnexpectedEOF})
	rec = doJSON(t, broken, http.MethodPost, "/api/ringback", `{"year":1970}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal server error", decodeBody(t, rec)["error"])
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestServer(t, &fakeBooths{})

	rec := doJSON(t, h, http.MethodOptions, "/api/scenes", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "apikey")
}

func TestIndexAndHealth(t *testing.T) {
	h, _ := newTestServer(t, &fakeBooths{})

	rec := doJSON(t, h, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Tokyo, Japan")
	require.Contains(t, rec.Body.String(), "homie")

	rec = doJSON(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/static/booth.js", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestBoothEndpointsWithoutPage(t *testing.T) {
	h, phones := newTestServer(t, &fakeBooths{})

	rec := doJSON(t, h, http.MethodGet, "/api/booths/nobody", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/booths/tab-9/call", `{"year":1970,"location":"Tokyo, Japan"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "https://img/Tokyo, Japan", body["image_url"])
	require.Equal(t, "ringing", body["call"].(map[string]any)["state"])

	rec = doJSON(t, h, http.MethodPost, "/api/booths/tab-9/messages", `{"text":"hello?"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	// No page is attached, so pickup cannot get a microphone.
	rec = doJSON(t, h, http.MethodPost, "/api/booths/tab-9/pickup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "error", decodeBody(t, rec)["state"])

	phone, ok := phones.Lookup("tab-9")
	require.True(t, ok)
	require.Contains(t, phone.Snapshot().Error, "no audio device")

	rec = doJSON(t, h, http.MethodDelete, "/api/booths/tab-9/call", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

type pageClient struct {
	t    *testing.T
	conn *websocket.Conn
}

// waitFor reads events until match accepts one.
func (c *pageClient) waitFor(match func(map[string]any) bool) map[string]any {
	c.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		kind, data, err := c.conn.ReadMessage()
		require.NoError(c.t, err)
		if kind != websocket.TextMessage {
			continue
		}
		var evt map[string]any
		require.NoError(c.t, sonic.Unmarshal(data, &evt))
		if match(evt) {
			return evt
		}
	}
}

func ofType(typ string) func(map[string]any) bool {
	return func(evt map[string]any) bool { return evt["type"] == typ }
}

func inState(state string) func(map[string]any) bool {
	return func(evt map[string]any) bool { return evt["type"] == "state" && evt["state"] == state }
}

func TestBoothCallOverEventsSocket(t *testing.T) {
	handler, _ := newTestServer(t, &fakeBooths{})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/booths/tab-1/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	page := &pageClient{t: t, conn: conn}

	snap := page.waitFor(ofType("snapshot"))
	require.Equal(t, "idle", snap["call"].(map[string]any)["state"])

	post := func(method, path, body string) map[string]any {
		req, err := http.NewRequest(method, srv.URL+path, bytes.NewBufferString(body))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, sonic.Unmarshal(data, &out))
		return out
	}

	resp := post(http.MethodPost, "/api/booths/tab-1/call", `{"year":1970,"location":"Tokyo, Japan"}`)
	require.Equal(t, "https://audio/1970.mp3", resp["ringback_url"])

	page.waitFor(inState("ringing"))
	play := page.waitFor(ofType("ringback.play"))
	require.Equal(t, "https://audio/1970.mp3", play["url"])

	page.waitFor(ofType("microphone.request"))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"microphone.granted"}`)))
	format := page.waitFor(ofType("media.format"))["format"].(map[string]any)
	require.Equal(t, "pcm16", format["encoding"])
	require.EqualValues(t, 24000, format["sample_rate"])
	page.waitFor(inState("connected"))

	snapshot := post(http.MethodPost, "/api/booths/tab-1/messages", `{"text":"Moshi moshi"}`)
	transcript := snapshot["transcript"].([]any)
	require.Equal(t, "Moshi moshi", transcript[0].(map[string]any)["text"])

	reply := page.waitFor(func(evt map[string]any) bool {
		return evt["type"] == "transcript" && evt["role"] == "agent" && evt["delta"] == "Moshi moshi"
	})
	require.NotEmpty(t, reply["session_id"])

	ended := post(http.MethodDelete, "/api/booths/tab-1/call", "")
	require.Equal(t, "ended", ended["state"])
	page.waitFor(inState("ended"))
}

func TestBoothMicrophoneDenied(t *testing.T) {
	handler, phones := newTestServer(t, &fakeBooths{})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/booths/tab-2/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	page := &pageClient{t: t, conn: conn}
	page.waitFor(ofType("snapshot"))

	resp, err := http.Post(srv.URL+"/api/booths/tab-2/call", "application/json", bytes.NewBufferString(`{"year":1970,"location":"Tokyo"}`))
	require.NoError(t, err)
	resp.Body.Close()

	page.waitFor(ofType("microphone.request"))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"microphone.denied"}`)))

	evt := page.waitFor(ofType("error"))
	require.Contains(t, evt["error"], "denied")
	page.waitFor(inState("error"))

	phone, ok := phones.Lookup("tab-2")
	require.True(t, ok)
	require.Equal(t, call.StateError, phone.Snapshot().State)
}

func TestClosingPageHangsUp(t *testing.T) {
	handler, phones := newTestServer(t, &fakeBooths{})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/booths/tab-3/events", nil)
	require.NoError(t, err)
	page := &pageClient{t: t, conn: conn}
	page.waitFor(ofType("snapshot"))

	resp, err := http.Post(srv.URL+"/api/booths/tab-3/call", "application/json", bytes.NewBufferString(`{"year":1970,"location":"Tokyo"}`))
	require.NoError(t, err)
	resp.Body.Close()
	page.waitFor(inState("ringing"))

	require.NoError(t, conn.Close())

	phone, ok := phones.Lookup("tab-3")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return phone.Snapshot().State == call.StateEnded
	}, 2*time.Second, 10*time.Millisecond)
}
