package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"storypoints/internal/gateway"
	"storypoints/internal/rooms"
	"storypoints/pkg/interfaces"
	"storypoints/pkg/types"
)

var _ RoomSource = (*rooms.Registry)(nil)

type fakeRooms struct {
	summaries map[string]types.RoomSummary
}

func (f *fakeRooms) Rooms() []types.RoomSummary {
	out := make([]types.RoomSummary, 0, len(f.summaries))
	for _, s := range f.summaries {
		out = append(out, s)
	}
	return out
}

func (f *fakeRooms) Summary(name string) (types.RoomSummary, error) {
	s, ok := f.summaries[name]
	if !ok {
		return types.RoomSummary{}, rooms.ErrRoomNotFound
	}
	return s, nil
}

func (f *fakeRooms) Count() (int, int) { return len(f.summaries), 3 }

type fakeStats map[string]int

func (f fakeStats) GetStats() map[string]int { return f }

type fakeJournal struct {
	entries   []types.ActivityEntry
	healthErr error
	readErr   error
	lastLimit int
}

func (f *fakeJournal) Record(types.ActivityEntry) {}

func (f *fakeJournal) Recent(_ context.Context, room string, limit int) ([]types.ActivityEntry, error) {
	f.lastLimit = limit
	if f.readErr != nil {
		return nil, f.readErr
	}
	var out []types.ActivityEntry
	for _, e := range f.entries {
		if e.Room == room {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeJournal) HealthCheck(context.Context) error { return f.healthErr }

func (f *fakeJournal) Close() error { return nil }

type testServer struct {
	server  *Server
	rooms   *fakeRooms
	journal *fakeJournal
	clock   *clockwork.FakeClock
}

func newTestServer(secret string) *testServer {
	ts := &testServer{
		rooms: &fakeRooms{summaries: map[string]types.RoomSummary{
			"sprint1": {Name: "sprint1", Members: 2, Timer: types.TimerState{Time: 30, ShowTimer: true}},
			"team/a":  {Name: "team/a", Members: 1},
		}},
		journal: &fakeJournal{},
		clock:   clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
	}
	ts.server = NewServer(Options{
		Rooms:      ts.rooms,
		Transport:  fakeStats{"total_connections": 3, "active_groups": 2},
		Journal:    ts.journal,
		Authorizer: gateway.NewSecretAuthorizer(secret),
		WebSocket: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		}),
		Clock: ts.clock,
	})
	return ts
}

func (ts *testServer) do(t *testing.T, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	ts.server.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("bad response body %q: %v", w.Body.String(), err)
	}
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer("s3cret")

	w := ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp HealthResponse
	decode(t, w, &resp)
	if resp.Status != "healthy" || resp.Rooms != 2 || resp.Journal != "healthy" {
		t.Errorf("unexpected health %+v", resp)
	}
	if resp.Connections["total_connections"] != 3 {
		t.Errorf("unexpected connection stats %v", resp.Connections)
	}
	if !resp.Timestamp.Equal(ts.clock.Now()) {
		t.Errorf("timestamp should come from the clock, got %v", resp.Timestamp)
	}

	ts.journal.healthErr = errors.New("disk gone")
	w = ts.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy journal should yield 503, got %d", w.Code)
	}
}

func TestServer_HealthWithoutJournal(t *testing.T) {
	s := NewServer(Options{Rooms: &fakeRooms{}})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)

	var resp HealthResponse
	decode(t, w, &resp)
	if w.Code != http.StatusOK || resp.Journal != "disabled" {
		t.Errorf("unexpected health %d %+v", w.Code, resp)
	}
}

func TestServer_SecretRequired(t *testing.T) {
	ts := newTestServer("s3cret")

	tests := []struct {
		name   string
		target string
		header http.Header
		want   int
	}{
		{"missing", "/api/rooms", nil, http.StatusUnauthorized},
		{"wrong header", "/api/rooms", http.Header{SecretHeader: {"nope"}}, http.StatusUnauthorized},
		{"header", "/api/rooms", http.Header{SecretHeader: {"s3cret"}}, http.StatusOK},
		{"query", "/api/rooms?secret=s3cret", nil, http.StatusOK},
		{"room needs secret", "/api/rooms/sprint1", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := ts.do(t, http.MethodGet, tt.target, tt.header); w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestServer_OpenWhenNoSecret(t *testing.T) {
	ts := newTestServer("")
	if w := ts.do(t, http.MethodGet, "/api/rooms", nil); w.Code != http.StatusOK {
		t.Errorf("no configured secret should allow access, got %d", w.Code)
	}
}

func TestServer_Rooms(t *testing.T) {
	ts := newTestServer("")

	w := ts.do(t, http.MethodGet, "/api/rooms", nil)
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %q", ct)
	}
	var list RoomsResponse
	decode(t, w, &list)
	if len(list.Rooms) != 2 {
		t.Errorf("expected 2 rooms, got %+v", list.Rooms)
	}

	w = ts.do(t, http.MethodGet, "/api/rooms/sprint1", nil)
	var summary types.RoomSummary
	decode(t, w, &summary)
	if w.Code != http.StatusOK || summary.Members != 2 || summary.Timer.Time != 30 {
		t.Errorf("unexpected summary %d %+v", w.Code, summary)
	}

	w = ts.do(t, http.MethodGet, "/api/rooms/team%2Fa", nil)
	summary = types.RoomSummary{}
	decode(t, w, &summary)
	if w.Code != http.StatusOK || summary.Name != "team/a" {
		t.Errorf("encoded room name not resolved: %d %+v", w.Code, summary)
	}

	w = ts.do(t, http.MethodGet, "/api/rooms/nowhere", nil)
	var e ErrorResponse
	decode(t, w, &e)
	if w.Code != http.StatusNotFound || e.Code != http.StatusNotFound {
		t.Errorf("unknown room should be 404, got %d %+v", w.Code, e)
	}

	if w := ts.do(t, http.MethodPost, "/api/rooms", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST should be rejected, got %d", w.Code)
	}
}

func TestServer_Activity(t *testing.T) {
	ts := newTestServer("")
	ts.journal.entries = []types.ActivityEntry{
		{ID: "e2", Room: "sprint1", Kind: types.ActivityUserJoined, User: "Alice"},
		{ID: "e1", Room: "sprint1", Kind: types.ActivityRoomCreated},
		{ID: "x1", Room: "sprint2", Kind: types.ActivityRoomCreated},
	}

	w := ts.do(t, http.MethodGet, "/api/rooms/sprint1/activity", nil)
	var resp ActivityResponse
	decode(t, w, &resp)
	if w.Code != http.StatusOK || len(resp.Entries) != 2 || resp.Entries[0].User != "Alice" {
		t.Errorf("unexpected activity %d %+v", w.Code, resp)
	}
	if ts.journal.lastLimit != defaultActivityLimit {
		t.Errorf("expected default limit, got %d", ts.journal.lastLimit)
	}

	ts.do(t, http.MethodGet, "/api/rooms/sprint1/activity?limit=100000", nil)
	if ts.journal.lastLimit != maxActivityLimit {
		t.Errorf("limit should be capped, got %d", ts.journal.lastLimit)
	}

	w = ts.do(t, http.MethodGet, "/api/rooms/empty/activity", nil)
	if w.Code != http.StatusOK || w.Body.String() != "{\"room\":\"empty\",\"entries\":[]}\n" {
		t.Errorf("empty history should be an empty list, got %d %s", w.Code, w.Body.String())
	}

	for _, bad := range []string{"0", "-1", "ten"} {
		if w := ts.do(t, http.MethodGet, "/api/rooms/sprint1/activity?limit="+bad, nil); w.Code != http.StatusBadRequest {
			t.Errorf("limit=%s should be 400, got %d", bad, w.Code)
		}
	}

	ts.journal.readErr = interfaces.ErrJournalUnreadable
	if w := ts.do(t, http.MethodGet, "/api/rooms/sprint1/activity", nil); w.Code != http.StatusNotFound {
		t.Errorf("unreadable journal should be 404, got %d", w.Code)
	}

	ts.journal.readErr = errors.New("boom")
	if w := ts.do(t, http.MethodGet, "/api/rooms/sprint1/activity", nil); w.Code != http.StatusInternalServerError {
		t.Errorf("read failure should be 500, got %d", w.Code)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	ts := newTestServer("s3cret")

	w := ts.do(t, http.MethodOptions, "/api/rooms", http.Header{
		"Origin":                         {"https://planning.example.com"},
		"Access-Control-Request-Method":  {http.MethodGet},
		"Access-Control-Request-Headers": {SecretHeader},
	})
	if w.Code >= 300 {
		t.Errorf("preflight should succeed without a secret, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("unexpected allow-origin %q", got)
	}
}

func TestServer_WebSocketRoute(t *testing.T) {
	ts := newTestServer("s3cret")
	if w := ts.do(t, http.MethodGet, "/ws", nil); w.Code != http.StatusTeapot {
		t.Errorf("/ws should reach the websocket handler, got %d", w.Code)
	}
}
