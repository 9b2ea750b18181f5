package gemini_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/speakdrill/pkg/provider/live"
	"github.com/MrWong99/speakdrill/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startGeminiServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startGeminiServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Errorf("readJSON: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Errorf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// acceptSetup consumes the setup frame and acknowledges it.
func acceptSetup(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var raw map[string]any
	readJSON(t, conn, &raw)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
}

// waitClientClose blocks until the client closes the connection.
func waitClientClose(conn *websocket.Conn) {
	<-conn.CloseRead(context.Background()).Done()
}

func connect(t *testing.T, srv *httptest.Server, cfg live.SessionConfig) live.Session {
	t.Helper()
	p := gemini.New("test-api-key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { sess.Close() })
	return sess
}

// nextEvent returns the next event or fails after a timeout.
func nextEvent(t *testing.T, sess live.Session) live.Event {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return live.Event{}
}

// ── Options ───────────────────────────────────────────────────────────────────

func TestNew_DefaultModel(t *testing.T) {
	t.Parallel()
	p := gemini.New("key")
	if p.Model() == "" {
		t.Error("default model should be non-empty")
	}
	if got := gemini.New("key", gemini.WithModel("custom")).Model(); got != "custom" {
		t.Errorf("Model() = %q, want custom", got)
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSetup(t *testing.T) {
	t.Parallel()

	type setupMsg struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				SpeechConfig       *struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction *struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
		} `json:"setup"`
	}

	received := make(chan setupMsg, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var msg setupMsg
		readJSON(t, conn, &msg)
		received <- msg
		waitClientClose(conn)
	})

	connect(t, srv, live.SessionConfig{
		SystemInstruction:        "You are an English tutor.",
		VoiceName:                "Kore",
		OutputAudioTranscription: true,
	})

	select {
	case msg := <-received:
		if !strings.HasPrefix(msg.Setup.Model, "models/") {
			t.Errorf("model %q should start with 'models/'", msg.Setup.Model)
		}
		if got := msg.Setup.GenerationConfig.ResponseModalities; len(got) != 1 || got[0] != "AUDIO" {
			t.Errorf("responseModalities = %v, want [AUDIO]", got)
		}
		if sc := msg.Setup.GenerationConfig.SpeechConfig; sc == nil || sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
			t.Errorf("speechConfig = %+v, want voice Kore", sc)
		}
		if si := msg.Setup.SystemInstruction; si == nil || len(si.Parts) == 0 || si.Parts[0].Text != "You are an English tutor." {
			t.Errorf("unexpected system instruction: %+v", si)
		}
		if msg.Setup.OutputAudioTranscription == nil {
			t.Error("outputAudioTranscription should be present")
		}
		if msg.Setup.InputAudioTranscription != nil {
			t.Error("inputAudioTranscription should be absent")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

func TestConnect_IncludesAPIKeyInURL(t *testing.T) {
	t.Parallel()

	query := make(chan string, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, r *http.Request) {
		query <- r.URL.RawQuery
		waitClientClose(conn)
	})

	connect(t, srv, live.SessionConfig{})

	select {
	case q := <-query:
		if !strings.Contains(q, "key=test-api-key") {
			t.Errorf("URL query %q should contain key=test-api-key", q)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}

func TestConnect_DialFailure(t *testing.T) {
	t.Parallel()
	p := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := p.Connect(ctx, live.SessionConfig{}); err == nil {
		t.Fatal("expected dial error")
	}
}

// ── Events ────────────────────────────────────────────────────────────────────

func TestEvents_OpenOnSetupComplete(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		waitClientClose(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	if ev := nextEvent(t, sess); ev.Kind != live.EventOpen {
		t.Errorf("first event = %v, want open", ev.Kind)
	}
}

func TestEvents_ServerContentConversion(t *testing.T) {
	t.Parallel()

	pcm := base64.StdEncoding.EncodeToString([]byte{0xAA, 0xBB})
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []map[string]any{
						{"text": "planning the reply", "thought": true},
						{"inlineData": map[string]any{"mimeType": "audio/pcm;rate=24000", "data": pcm}},
					},
				},
				"outputTranscription": map[string]any{"text": "Hello"},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "I goed home"},
				"turnComplete":       true,
			},
		})
		waitClientClose(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	nextEvent(t, sess) // open

	ev := nextEvent(t, sess)
	if ev.Kind != live.EventMessage || ev.Message == nil {
		t.Fatalf("event = %+v, want message", ev)
	}
	m := ev.Message
	if len(m.AudioChunks) != 1 || m.AudioChunks[0] != pcm {
		t.Errorf("AudioChunks = %v, want [%s]", m.AudioChunks, pcm)
	}
	if len(m.Parts) != 1 || !m.Parts[0].Thought || m.Parts[0].Text != "planning the reply" {
		t.Errorf("Parts = %+v", m.Parts)
	}
	if m.OutputTranscription != "Hello" {
		t.Errorf("OutputTranscription = %q", m.OutputTranscription)
	}
	if m.TurnComplete {
		t.Error("first message should not be turn complete")
	}

	ev = nextEvent(t, sess)
	if ev.Message == nil || ev.Message.InputTranscription != "I goed home" || !ev.Message.TurnComplete {
		t.Errorf("second message = %+v", ev.Message)
	}
}

func TestEvents_EmptyContentSkipped(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"interrupted": false}})
		writeJSON(t, conn, map[string]any{"serverContent": map[string]any{"turnComplete": true}})
		waitClientClose(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	nextEvent(t, sess) // open
	if ev := nextEvent(t, sess); ev.Message == nil || !ev.Message.TurnComplete {
		t.Errorf("event = %+v, want turnComplete message", ev)
	}
}

func TestEvents_ErrorFrame(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		writeJSON(t, conn, map[string]any{
			"error": map[string]any{"code": 429, "message": "quota exceeded", "status": "RESOURCE_EXHAUSTED"},
		})
		waitClientClose(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	nextEvent(t, sess) // open

	ev := nextEvent(t, sess)
	if ev.Kind != live.EventError {
		t.Fatalf("event = %v, want error", ev.Kind)
	}
	var rerr *live.RemoteError
	if !errors.As(ev.Err, &rerr) {
		t.Fatalf("err = %T, want *live.RemoteError", ev.Err)
	}
	if rerr.Code != 429 || rerr.Message != "quota exceeded" {
		t.Errorf("remote error = %+v", rerr)
	}
}

func TestEvents_ServerCloseDeliversCloseAndEndsStream(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		conn.Close(websocket.StatusPolicyViolation, "API key not valid")
	})

	sess := connect(t, srv, live.SessionConfig{})
	nextEvent(t, sess) // open

	ev := nextEvent(t, sess)
	if ev.Kind != live.EventClose || ev.Close == nil {
		t.Fatalf("event = %+v, want close", ev)
	}
	if ev.Close.Code != int(websocket.StatusPolicyViolation) || ev.Close.Reason != "API key not valid" {
		t.Errorf("close = %+v", ev.Close)
	}

	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Error("expected channel to be closed after close event")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

// ── Sending ───────────────────────────────────────────────────────────────────

func TestSendClientContent_EncodesTurns(t *testing.T) {
	t.Parallel()

	type clientContent struct {
		ClientContent struct {
			Turns []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"turns"`
			TurnComplete bool `json:"turnComplete"`
		} `json:"clientContent"`
	}

	got := make(chan clientContent, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg clientContent
		readJSON(t, conn, &msg)
		got <- msg
		waitClientClose(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	err := sess.SendClientContent([]live.Turn{
		{Role: live.RoleUser, Content: "Hi"},
		{Role: live.RoleModel, Content: "Hello! Repeat after me."},
		{Role: "assistant", Content: "coerced"},
	}, true)
	if err != nil {
		t.Fatalf("SendClientContent: %v", err)
	}

	select {
	case msg := <-got:
		turns := msg.ClientContent.Turns
		if len(turns) != 3 {
			t.Fatalf("turns = %d, want 3", len(turns))
		}
		wantRoles := []string{"user", "model", "user"}
		for i, want := range wantRoles {
			if turns[i].Role != want {
				t.Errorf("turn %d role = %q, want %q", i, turns[i].Role, want)
			}
		}
		if turns[0].Parts[0].Text != "Hi" {
			t.Errorf("turn 0 text = %q", turns[0].Parts[0].Text)
		}
		if !msg.ClientContent.TurnComplete {
			t.Error("turnComplete should be true")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for clientContent")
	}
}

func TestSendRealtimeInput_EncodesAudio(t *testing.T) {
	t.Parallel()

	type realtimeInput struct {
		RealtimeInput struct {
			Audio struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"audio"`
		} `json:"realtimeInput"`
	}

	got := make(chan realtimeInput, 1)
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		var msg realtimeInput
		readJSON(t, conn, &msg)
		got <- msg
		waitClientClose(conn)
	})

	sess := connect(t, srv, live.SessionConfig{InputAudioTranscription: true})
	want := []byte{0x01, 0x02, 0x03, 0x04}
	if err := sess.SendRealtimeInput(live.Blob{Data: want, MIMEType: "audio/pcm;rate=16000"}); err != nil {
		t.Fatalf("SendRealtimeInput: %v", err)
	}

	select {
	case msg := <-got:
		if msg.RealtimeInput.Audio.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %q", msg.RealtimeInput.Audio.MIMEType)
		}
		data, err := base64.StdEncoding.DecodeString(msg.RealtimeInput.Audio.Data)
		if err != nil {
			t.Fatalf("base64 decode: %v", err)
		}
		if string(data) != string(want) {
			t.Errorf("data = %v, want %v", data, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for realtimeInput")
	}
}

// ── Close ─────────────────────────────────────────────────────────────────────

func TestClose_IdempotentAndBlocksSends(t *testing.T) {
	t.Parallel()
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		waitClientClose(conn)
	})

	sess := connect(t, srv, live.SessionConfig{})
	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := sess.SendClientContent(nil, true); err == nil {
		t.Error("SendClientContent after Close should fail")
	}
	if err := sess.SendRealtimeInput(live.Blob{Data: []byte{1}}); err == nil {
		t.Error("SendRealtimeInput after Close should fail")
	}
}

// ── Keepalive ─────────────────────────────────────────────────────────────────

// lockedBuffer is a bytes.Buffer safe for a logger and a polling test.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestKeepalive_LogsUnansweredPing(t *testing.T) {
	var logs lockedBuffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })

	release := make(chan struct{})
	defer close(release)
	// The server never reads after setup, so pings are never answered.
	srv := startGeminiServer(t, func(conn *websocket.Conn, _ *http.Request) {
		acceptSetup(t, conn)
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	})

	p := gemini.New("test-api-key",
		gemini.WithBaseURL(wsURL(srv)),
		gemini.WithKeepalive(20*time.Millisecond, 20*time.Millisecond),
	)
	sess, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	deadline := time.Now().Add(3 * time.Second)
	for !strings.Contains(logs.String(), "keepalive ping failed") {
		if time.Now().After(deadline) {
			t.Fatalf("no keepalive failure logged: %s", logs.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
