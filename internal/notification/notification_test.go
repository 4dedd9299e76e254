package notification

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"chartcore/internal/logger"
	"chartcore/internal/model"
)

var fastRetry = RetryPolicy{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func testEvent() model.AlertEvent {
	p := 101.5
	return model.AlertEvent{
		ID:      "ev-1",
		AlertID: "a-1",
		At:      time.Date(2024, 5, 6, 14, 30, 0, 0, time.UTC),
		Kind:    model.AlertCross,
		Note:    "range high",
		Price:   &p,
	}
}

func TestTitleAndMessage(t *testing.T) {
	ev := testEvent()
	if got := Title(ev); got != "cross alert: range high" {
		t.Errorf("Title = %q", got)
	}
	ev.Kind, ev.Note = model.AlertRegionTouch, ""
	if got := Title(ev); got != "region touch alert" {
		t.Errorf("Title = %q", got)
	}
	if got := Message(ev); got != "alert a-1 at price 101.5 (2024-05-06 14:30:00 UTC)" {
		t.Errorf("Message = %q", got)
	}
}

func TestWebhookNotifier_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var payload webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("Idempotency-Key") != "ev-1" {
			t.Errorf("idempotency key = %q", r.Header.Get("Idempotency-Key"))
		}
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, fastRetry)
	if err := n.Send(context.Background(), testEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if payload.Event.AlertID != "a-1" || payload.Title == "" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestWebhookNotifier_ClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL, fastRetry).Send(context.Background(), testEvent())
	var serr *StatusError
	if !errors.As(err, &serr) || serr.Code != http.StatusBadRequest {
		t.Fatalf("err = %v, want StatusError 400", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestWebhookNotifier_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL, fastRetry).Send(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3 (1 + 2 retries)", calls.Load())
	}
}

func TestTelegramNotifier(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("TOKEN", "-100", fastRetry)
	n.baseURL = srv.URL
	ev := testEvent()
	ev.Sound = "none"
	if err := n.Send(context.Background(), ev); err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %q", path)
	}
	if got["chat_id"] != "-100" || got["parse_mode"] != "MarkdownV2" || got["disable_notification"] != true {
		t.Errorf("body = %v", got)
	}
	if text, _ := got["text"].(string); !strings.Contains(text, `101\.5`) {
		t.Errorf("text not escaped: %q", text)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	if got := escapeMarkdown("a_b.c!"); got != `a\_b\.c\!` {
		t.Errorf("got %q", got)
	}
}

type fakeKafka struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeKafka) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeKafka) Close() error { return nil }

func TestKafkaNotifier(t *testing.T) {
	w := &fakeKafka{}
	k := &KafkaNotifier{w: w, symbol: "BTCUSD"}
	if err := k.Send(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "a-1" {
		t.Errorf("key = %q", m.Key)
	}
	var ev model.AlertEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.ID != "ev-1" {
		t.Errorf("value = %s (%v)", m.Value, err)
	}

	w.err = errors.New("leader not available")
	if err := k.Send(context.Background(), testEvent()); err == nil {
		t.Error("expected error")
	}
}

func TestParseBrokers(t *testing.T) {
	got := ParseBrokers(" k1:9092, ,k2:9092 ")
	if len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Errorf("got %v", got)
	}
}

type fakePub struct{ err error }

func (f fakePub) Publish(context.Context, model.AlertEvent) error { return f.err }

func TestRedisNotifier(t *testing.T) {
	if err := NewRedisNotifier(fakePub{}).Send(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}
	if err := NewRedisNotifier(fakePub{err: errors.New("down")}).Send(context.Background(), testEvent()); err == nil {
		t.Fatal("expected error")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	ids    []string
	traces []string
	err    error
	block  chan struct{}
}

func (r *recordingSink) Send(ctx context.Context, ev model.AlertEvent) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, ev.ID)
	r.traces = append(r.traces, logger.TraceID(ctx))
	return r.err
}

func (r *recordingSink) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

func TestDispatcher_DeliversToAllSinksInOrder(t *testing.T) {
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("boom")}

	var mu sync.Mutex
	var failures []string
	d := NewDispatcher(8, time.Second, Sink{Name: "good", Notifier: good}, Sink{Name: "bad", Notifier: bad})
	d.OnError = func(sink string, ev model.AlertEvent, err error) {
		mu.Lock()
		failures = append(failures, sink+":"+ev.ID)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	tctx := logger.WithTraceID(context.Background(), "BTCUSD-1")
	if n := d.Enqueue(tctx, model.AlertEvent{ID: "e1"}, model.AlertEvent{ID: "e2"}); n != 2 {
		t.Fatalf("accepted = %d", n)
	}
	cancel()
	<-d.Done()

	if got := good.seen(); len(got) != 2 || got[0] != "e1" || got[1] != "e2" {
		t.Errorf("good sink saw %v", got)
	}
	if good.traces[0] != "BTCUSD-1" {
		t.Errorf("trace id not propagated: %v", good.traces)
	}
	if len(failures) != 2 || failures[0] != "bad:e1" {
		t.Errorf("failures = %v", failures)
	}
	if got := d.Sinks(); len(got) != 2 || got[0] != "good" {
		t.Errorf("sinks = %v", got)
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	d := NewDispatcher(2, time.Second, Sink{Name: "s", Notifier: &recordingSink{}})
	var dropped []string
	d.OnDrop = func(ev model.AlertEvent) { dropped = append(dropped, ev.ID) }

	// Run is not started, so the queue only fills.
	n := d.Enqueue(context.Background(),
		model.AlertEvent{ID: "e1"}, model.AlertEvent{ID: "e2"}, model.AlertEvent{ID: "e3"})
	if n != 2 {
		t.Errorf("accepted = %d, want 2", n)
	}
	if len(dropped) != 1 || dropped[0] != "e3" {
		t.Errorf("dropped = %v", dropped)
	}
	if l, c := d.QueueStat(); l != 2 || c != 2 {
		t.Errorf("queue stat = %d/%d", l, c)
	}
}

func TestLogNotifier(t *testing.T) {
	if err := NewLogNotifier(nil).Send(context.Background(), testEvent()); err != nil {
		t.Fatal(err)
	}
}
