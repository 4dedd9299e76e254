package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"chartcore/internal/alert"
	"chartcore/internal/chart"
	"chartcore/internal/indicator"
	"chartcore/internal/model"
	"chartcore/internal/store/sqlite"
)

const sym = "BTCUSD"

type fixedOverlays struct {
	ov []indicator.Overlay
	at time.Time
}

func (f fixedOverlays) Latest() ([]indicator.Overlay, time.Time) { return f.ov, f.at }

type env struct {
	srv   *httptest.Server
	book  *alert.Book
	store *sqlite.Store
	hub   *Hub
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m := chart.NewMapper()
	chart.Attach(m,
		chart.LinearPriceScale{Top: 0, Bottom: 100, Min: 0, Max: 100},
		chart.LinearTimeScale{Origin: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Interval: time.Minute, BarSpacing: 10},
	)
	m.ReplaceSnapshot(chart.Snapshot{PriceLevels: []float64{40}, BarX: []float64{0, 10, 20}})

	sma := indicator.Series{model.NullFloat{}, {Float: 2.5, Valid: true}}
	hub := NewHub(16)
	t.Cleanup(hub.Close)

	e := &env{book: alert.NewBook(alert.Evaluator{}), store: st, hub: hub}
	e.srv = httptest.NewServer(NewRouter(Deps{
		Symbol:   sym,
		Book:     e.book,
		Store:    st,
		Overlays: fixedOverlays{ov: []indicator.Overlay{{Name: "SMA_2", Lines: map[string]indicator.Series{"value": sma}}}, at: time.Now()},
		Mapper:   m,
		Stream:   hub,
	}))
	t.Cleanup(e.srv.Close)
	return e
}

func (e *env) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, rd)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealthAndCORS(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/api/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodOptions, "/api/v1/alerts", nil)
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header on preflight")
	}
}

func TestOverlays(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/api/v1/overlays", nil)
	var out struct {
		Symbol   string `json:"symbol"`
		Overlays []struct {
			Name  string                `json:"name"`
			Lines map[string][]*float64 `json:"lines"`
		} `json:"overlays"`
	}
	decode(t, resp, &out)
	if out.Symbol != sym || len(out.Overlays) != 1 {
		t.Fatalf("unexpected overlays response: %+v", out)
	}
	v := out.Overlays[0].Lines["value"]
	if len(v) != 2 || v[0] != nil || v[1] == nil || *v[1] != 2.5 {
		t.Fatalf("warm-up should encode as null: %+v", v)
	}
}

func TestDrawingAndAlertLifecycle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	resp := e.do(t, http.MethodPost, "/api/v1/drawings", model.DrawingSpec{
		ID: "h1", Kind: model.KindHLine, Points: []model.Point{{Y: 50}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create drawing: %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/api/v1/drawings", model.DrawingSpec{
		ID: "bad", Kind: model.KindHLine,
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid geometry should be rejected, got %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/api/v1/alerts", model.Alert{
		Kind: model.AlertCross, DrawingID: "h1", Enabled: true, Triggers: 9,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create alert: %d", resp.StatusCode)
	}
	var created model.Alert
	decode(t, resp, &created)
	if created.ID == "" || created.Triggers != 0 {
		t.Fatalf("expected generated id and zero counters: %+v", created)
	}

	resp = e.do(t, http.MethodPost, "/api/v1/alerts/"+created.ID+"/snooze", map[string]string{"for": "10m"})
	var snoozed model.Alert
	decode(t, resp, &snoozed)
	if snoozed.SnoozedUntil == nil || !snoozed.SnoozedUntil.After(time.Now()) {
		t.Fatalf("expected future snooze, got %+v", snoozed.SnoozedUntil)
	}

	resp = e.do(t, http.MethodPost, "/api/v1/alerts/"+created.ID+"/disable", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable: %d", resp.StatusCode)
	}
	stored, err := e.store.LoadAlerts(ctx, sym)
	if err != nil || len(stored) != 1 || stored[0].Enabled {
		t.Fatalf("disable should be persisted: %+v err=%v", stored, err)
	}

	resp = e.do(t, http.MethodGet, "/api/v1/alerts/missing", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodDelete, "/api/v1/drawings/h1", nil)
	var del struct {
		Removed []string `json:"removed_alerts"`
	}
	decode(t, resp, &del)
	if len(del.Removed) != 1 || del.Removed[0] != created.ID {
		t.Fatalf("cascade should remove the bound alert: %+v", del)
	}
	if e.book.Len() != 0 {
		t.Fatal("book should be empty after cascade")
	}
	if stored, _ := e.store.LoadAlerts(ctx, sym); len(stored) != 0 {
		t.Fatalf("store should cascade too, got %d alerts", len(stored))
	}
}

func TestAlertMutationsKeepStoredCounters(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.do(t, http.MethodPost, "/api/v1/drawings", model.DrawingSpec{
		ID: "h1", Kind: model.KindHLine, Points: []model.Point{{Y: 50}},
	})
	resp := e.do(t, http.MethodPost, "/api/v1/alerts",
		json.RawMessage(`{"kind":"cross","drawing_id":"h1","enabled":true,"cooldown_ms":60000,"max_triggers":1}`))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create alert: %d", resp.StatusCode)
	}
	var created model.Alert
	decode(t, resp, &created)
	if created.Cooldown != time.Minute {
		t.Fatalf("cooldown_ms should decode as milliseconds, got %v", created.Cooldown)
	}

	// the journal persisted a firing the handler's snapshot does not know about
	fired := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	if err := e.store.UpdateAlertTriggers(ctx, sym, created.ID, 1, &fired); err != nil {
		t.Fatal(err)
	}

	for _, action := range []string{"disable", "enable", "snooze"} {
		resp = e.do(t, http.MethodPost, "/api/v1/alerts/"+created.ID+"/"+action, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: %d", action, resp.StatusCode)
		}
	}
	resp = e.do(t, http.MethodPut, "/api/v1/alerts/"+created.ID, model.Alert{
		Kind: model.AlertCross, DrawingID: "h1", Enabled: true, Note: "edited", Cooldown: time.Minute, MaxTriggers: 1,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("put: %d", resp.StatusCode)
	}

	stored, err := e.store.LoadAlerts(ctx, sym)
	if err != nil || len(stored) != 1 {
		t.Fatalf("load: %+v err=%v", stored, err)
	}
	if stored[0].Triggers != 1 || stored[0].LastTriggeredAt == nil {
		t.Fatalf("mutations overwrote counters: %+v", stored[0])
	}
	if stored[0].Note != "edited" || stored[0].Cooldown != time.Minute {
		t.Fatalf("definition not persisted: %+v", stored[0])
	}

	resp = e.do(t, http.MethodPost, "/api/v1/alerts/"+created.ID+"/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset: %d", resp.StatusCode)
	}
	stored, _ = e.store.LoadAlerts(ctx, sym)
	if stored[0].Triggers != 0 || stored[0].LastTriggeredAt != nil {
		t.Fatalf("reset should clear stored counters: %+v", stored[0])
	}
}

func TestAlertValidation(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/api/v1/alerts", model.Alert{Kind: model.AlertCross})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("alert without drawing should be 400, got %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodPost, "/api/v1/alerts", "not an alert")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad JSON should be 400, got %d", resp.StatusCode)
	}
}

func TestEvents(t *testing.T) {
	e := newEnv(t)
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	evs := []model.AlertEvent{
		{ID: "e1", AlertID: "a", At: base, Kind: model.AlertCross},
		{ID: "e2", AlertID: "b", At: base.Add(time.Second), Kind: model.AlertCross},
		{ID: "e3", AlertID: "a", At: base.Add(2 * time.Second), Kind: model.AlertCross},
	}
	if err := e.store.InsertEvents(context.Background(), sym, evs); err != nil {
		t.Fatal(err)
	}

	var recent []model.AlertEvent
	decode(t, e.do(t, http.MethodGet, "/api/v1/events?limit=2", nil), &recent)
	if len(recent) != 2 || recent[0].ID != "e3" {
		t.Fatalf("expected newest two events, got %+v", recent)
	}

	var forA []model.AlertEvent
	decode(t, e.do(t, http.MethodGet, "/api/v1/alerts/a/events", nil), &forA)
	if len(forA) != 2 || forA[0].ID != "e1" {
		t.Fatalf("expected events of alert a oldest first, got %+v", forA)
	}
}

func TestSnap(t *testing.T) {
	e := newEnv(t)
	var out struct {
		X     float64 `json:"x"`
		Y     float64 `json:"y"`
		Price float64 `json:"price"`
	}
	decode(t, e.do(t, http.MethodGet, "/api/v1/snap?x=12&y=58&bar_tol=5&price_tol=5", nil), &out)
	// bar at x=10, level 40 maps to y=60
	if out.X != 10 || out.Y != 60 || out.Price != 40 {
		t.Fatalf("unexpected snap: %+v", out)
	}

	resp := e.do(t, http.MethodGet, "/api/v1/snap?x=abc", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestStream_LiveAndReplay(t *testing.T) {
	e := newEnv(t)
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/api/v1/stream"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for e.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	e.hub.Send(context.Background(), model.AlertEvent{ID: "e1", AlertID: "a", Kind: model.AlertCross})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env struct {
		Seq   int64            `json:"seq"`
		Event model.AlertEvent `json:"event"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode envelope %s: %v", msg, err)
	}
	if env.Seq != 1 || env.Event.ID != "e1" {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	e.hub.Send(context.Background(), model.AlertEvent{ID: "e2", AlertID: "a", Kind: model.AlertCross})

	late, _, err := websocket.DefaultDialer.Dial(wsURL+"?last_seq=1", nil)
	if err != nil {
		t.Fatalf("dial replay: %v", err)
	}
	defer late.Close()
	late.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err = late.ReadMessage()
	if err != nil {
		t.Fatalf("read replay: %v", err)
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("decode replay %s: %v", msg, err)
	}
	if env.Seq != 2 || env.Event.ID != "e2" {
		t.Fatalf("replay should start after last_seq: %+v", env)
	}
}

func TestStream_ReplayDuringSendsIsOrderedAndUnique(t *testing.T) {
	hub := NewHub(64)
	srv := httptest.NewServer(hub)
	defer srv.Close()
	defer hub.Close()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		hub.Send(ctx, model.AlertEvent{ID: "e", AlertID: "a", Kind: model.AlertCross})
	}

	const total = 40
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		for i := 6; i <= total; i++ {
			hub.Send(ctx, model.AlertEvent{ID: "e", AlertID: "a", Kind: model.AlertCross})
		}
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"?last_seq=2", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	<-sent

	var seqs []int64
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(seqs) == 0 || seqs[len(seqs)-1] < total {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read after %v: %v", seqs, err)
		}
		// queued envelopes are coalesced, newline separated
		for _, line := range bytes.Split(msg, []byte{'\n'}) {
			var env struct {
				Seq int64 `json:"seq"`
			}
			if err := json.Unmarshal(line, &env); err != nil {
				t.Fatalf("decode %s: %v", line, err)
			}
			seqs = append(seqs, env.Seq)
		}
	}

	if seqs[0] != 3 {
		t.Fatalf("replay should start at seq 3, got %v", seqs)
	}
	for i := 1; i < len(seqs); i++ {
		if seqs[i] != seqs[i-1]+1 {
			t.Fatalf("envelopes duplicated or out of order: %v", seqs)
		}
	}
}

func TestReplayBuffer_Since(t *testing.T) {
	rb := NewReplayBuffer(3)
	for i := int64(1); i <= 5; i++ {
		rb.Push(i, []byte{byte('0' + i)})
	}
	if rb.Len() != 3 {
		t.Fatalf("expected len=3, got %d", rb.Len())
	}
	got := rb.Since(3)
	if len(got) != 2 || string(got[0]) != "4" || string(got[1]) != "5" {
		t.Fatalf("unexpected replay: %q", got)
	}
	if all := rb.Since(0); len(all) != 3 || string(all[0]) != "3" {
		t.Fatalf("oldest entries should be evicted: %q", all)
	}
}
