package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-relay/internal/auth"
	"github.com/vovakirdan/wirechat-relay/internal/config"
	"github.com/vovakirdan/wirechat-relay/internal/core"
	"github.com/vovakirdan/wirechat-relay/internal/fanout"
	"github.com/vovakirdan/wirechat-relay/internal/proto"
	"github.com/vovakirdan/wirechat-relay/internal/store"
	"github.com/vovakirdan/wirechat-relay/internal/store/sqlite"
)

type testEnv struct {
	ts    *httptest.Server
	hub   *core.Hub
	store store.MessageStore
	wsURL string
}

// startTestServer runs a full server on an in-memory store. mutate may adjust
// the configuration before the hub is built.
func startTestServer(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	disabledLogger := zerolog.New(nil)
	fan := fanout.NewLocal()
	hub := core.NewHub(st, fan, core.Options{
		DefaultRoom:     cfg.Chat.DefaultRoom,
		HistoryLimit:    cfg.Chat.HistoryLimit,
		ReplayBatch:     cfg.Chat.ReplayBatch,
		WriteTimeout:    cfg.Chat.WriteTimeout,
		RecoveryEnabled: cfg.Recovery.Enabled,
		MaxDisconnect:   cfg.Recovery.MaxDisconnect,
		ParkBuffer:      cfg.Recovery.Buffer,
		SweepInterval:   cfg.Recovery.SweepInterval,
	}, &disabledLogger)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()
	waitFor(t, func() bool { return fan.Listeners() == 1 })

	tokens := &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Minute,
	}

	server, err := NewServer(hub, st, &cfg, tokens, &disabledLogger)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{
		ts:    ts,
		hub:   hub,
		store: st,
		wsURL: strings.Replace(ts.URL, "http", "ws", 1) + "/ws",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// frame is a decoded outbound message with its payload left raw.
type frame struct {
	Type  string          `json:"type"`
	Seq   int64           `json:"seq"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (f frame) decode(t *testing.T, v any) {
	t.Helper()
	if err := json.Unmarshal(f.Data, v); err != nil {
		t.Fatalf("decode %s data: %v", f.Event, err)
	}
}

// dial connects and consumes the session frame.
func dial(t *testing.T, ctx context.Context, url string) (*websocket.Conn, proto.EventSessionData) {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	f := readFrame(t, ctx, conn)
	if f.Type != proto.OutboundTypeEvent || f.Event != proto.EventSession {
		t.Fatalf("expected session event first, got %+v", f)
	}
	var session proto.EventSessionData
	f.decode(t, &session)
	return conn, session
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) frame {
	t.Helper()
	var f frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// readUntil skips frames until match returns true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(frame) bool) frame {
	t.Helper()
	for {
		f := readFrame(t, ctx, conn)
		if match(f) {
			return f
		}
	}
}

func isEvent(name string) func(frame) bool {
	return func(f frame) bool { return f.Type == proto.OutboundTypeEvent && f.Event == name }
}

func isAck(seq int64) func(frame) bool {
	return func(f frame) bool { return f.Type == proto.OutboundTypeAck && f.Seq == seq }
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, seq int64, data any) {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s: %v", typ, err)
		}
		raw = payload
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Seq: seq, Data: raw}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// request sends a command and returns its decoded ack.
func request(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, seq int64, data any) (frame, proto.AckData) {
	t.Helper()
	send(t, ctx, conn, typ, seq, data)
	f := readUntil(t, ctx, conn, isAck(seq))
	var ack proto.AckData
	f.decode(t, &ack)
	return f, ack
}

func setNickname(t *testing.T, ctx context.Context, conn *websocket.Conn, seq int64, name string) {
	t.Helper()
	f, ack := request(t, ctx, conn, proto.InboundTypeSetNickname, seq, proto.SetNicknameData{Name: name})
	if !ack.OK {
		t.Fatalf("set nickname %q failed: %+v", name, f.Error)
	}
}
