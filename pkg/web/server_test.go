package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/param-go/param/pkg/param"
)

func viewClass(t *testing.T) *param.Class {
	t.Helper()
	c, err := param.NewClass("View", nil,
		param.Attr("gain", param.Number, param.Default(2.0), param.Bounded(0, 10),
			param.Doc("Output gain.")),
		param.Attr("count", param.Integer, param.Default(1), param.BoundedBy(param.AtLeast(0))),
		param.Attr("title", param.String, param.Default("untitled")),
	)
	if err != nil {
		t.Fatalf("NewClass: %v", err)
	}
	return c
}

func testServer(t *testing.T, roots []Root) *PanelServer {
	t.Helper()
	return New(&Config{
		Roots:   roots,
		Metrics: NewMetrics(WithRegistry(prometheus.NewRegistry())),
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealthzAndPanelRoutes(t *testing.T) {
	s := testServer(t, []Root{{Name: "view", Class: viewClass(t)}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("healthz decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("healthz body = %v", body)
	}

	resp, err = http.Get(ts.URL + "/panel")
	if err != nil {
		t.Fatalf("panel: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("panel status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("panel content type = %q", ct)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", resp.StatusCode)
	}
}

func TestUploadRouteOnlyWithFileStore(t *testing.T) {
	s := testServer(t, []Root{{Name: "view", Class: viewClass(t)}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/upload", "text/plain", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Fatal("upload route served without a file store")
	}
}

// dialPanel connects, performs the hello exchange, and returns the session
// id and the announced control ids by name.
func dialPanel(t *testing.T, ts *httptest.Server, resumeID, query string) (*websocket.Conn, string, map[string]int) {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	if err := conn.WriteJSON(Message{Type: "hello", Session: resumeID, Query: query}); err != nil {
		t.Fatalf("hello: %v", err)
	}

	ctrls := make(map[string]int)
	var sessionID string
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for sessionID == "" {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("handshake read: %v", err)
		}
		switch msg.Type {
		case "ctrl":
			ctrls[msg.Name] = msg.ID
		case "hello":
			sessionID = msg.Session
		case "err":
			t.Fatalf("server error during handshake: %s", msg.Error)
		}
	}
	return conn, sessionID, ctrls
}

func TestWebSocketPanelEndToEnd(t *testing.T) {
	s := testServer(t, []Root{{
		Name:  "view",
		Class: viewClass(t),
		Query: map[string]string{"count": "n"},
	}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, sessionID, ctrls := dialPanel(t, ts, "", "n=5")
	defer conn.Close()

	if len(ctrls) == 0 {
		t.Fatal("no controls announced")
	}
	gainID, ok := ctrls["gain"]
	if !ok {
		t.Fatalf("gain control not announced, got %v", ctrls)
	}

	sess := s.Manager().Get(sessionID)
	if sess == nil {
		t.Fatalf("session %s not registered", sessionID)
	}
	inst, _ := sess.Root("view")

	// The page URL carried n=5; hydration wins over the declared default.
	if got := inst.MustGet("count"); got != 5 {
		t.Fatalf("count = %v after hydration, want 5", got)
	}

	// A control change on the page lands on the instance.
	if err := conn.WriteJSON(Message{Type: "set", ID: gainID, Value: json.RawMessage(`4.5`)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	waitFor(t, "gain to reach 4.5", func() bool {
		return inst.MustGet("gain") == 4.5
	})

	// A server-side change reaches the page as set and url messages.
	if err := inst.Set("count", 9); err != nil {
		t.Fatalf("Set count: %v", err)
	}
	sawSet, sawURL := false, false
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for !sawSet || !sawURL {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v (set=%v url=%v)", err, sawSet, sawURL)
		}
		switch msg.Type {
		case "set":
			if msg.ID == ctrls["count"] && string(msg.Value) == "9" {
				sawSet = true
			}
		case "url":
			if msg.Key == "n" && msg.Val == "9" {
				sawURL = true
			}
		}
	}
}

func TestSessionResumeKeepsState(t *testing.T) {
	s := testServer(t, []Root{{Name: "view", Class: viewClass(t)}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, sessionID, ctrls := dialPanel(t, ts, "", "")

	if err := conn.WriteJSON(Message{Type: "set", ID: ctrls["gain"], Value: json.RawMessage(`7.5`)}); err != nil {
		t.Fatalf("set: %v", err)
	}
	sess := s.Manager().Get(sessionID)
	inst, _ := sess.Root("view")
	waitFor(t, "gain to reach 7.5", func() bool {
		return inst.MustGet("gain") == 7.5
	})

	conn.Close()
	waitFor(t, "session to detach", func() bool {
		return s.Manager().Stats().Connected == 0
	})

	conn2, resumedID, ctrls2 := dialPanel(t, ts, sessionID, "")
	defer conn2.Close()

	if resumedID != sessionID {
		t.Fatalf("resumed id = %s, want %s", resumedID, sessionID)
	}
	inst2, _ := s.Manager().Get(resumedID).Root("view")
	if got := inst2.MustGet("gain"); got != 7.5 {
		t.Fatalf("gain = %v after resume, want 7.5", got)
	}
	if _, ok := ctrls2["gain"]; !ok {
		t.Fatal("gain control not re-announced on resume")
	}
}

func TestUnknownSessionStartsFresh(t *testing.T) {
	s := testServer(t, []Root{{Name: "view", Class: viewClass(t)}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, sessionID, _ := dialPanel(t, ts, "no-such-session", "")
	defer conn.Close()

	if sessionID == "" || sessionID == "no-such-session" {
		t.Fatalf("expected a fresh session id, got %q", sessionID)
	}
}
