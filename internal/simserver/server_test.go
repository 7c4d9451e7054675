package simserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/session"
	"github.com/vovakirdan/wirechat-client/internal/status"
)

func newSimServer(t *testing.T) (*httptest.Server, *Server) {
	t.Helper()

	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := zerolog.Nop()
	jwtCfg := &auth.JWTConfig{Secret: []byte("sim-secret"), Issuer: "wirechat-sim", TTL: time.Hour}
	srv := NewServer(store, jwtCfg, &logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv
}

type guestData struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

func guestLogin(t *testing.T, baseURL, username string) guestData {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"username": username})
	resp, err := http.Post(baseURL+"/api/guest", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("guest login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("guest login status: %d", resp.StatusCode)
	}

	var out struct {
		Success bool      `json:"success"`
		Data    guestData `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode guest response: %v", err)
	}
	if !out.Success || out.Data.Token == "" {
		t.Fatalf("unexpected guest response: %+v", out)
	}
	return out.Data
}

func startClient(t *testing.T, baseURL string, g guestData) *session.Session {
	t.Helper()
	cfg := config.Default()
	cfg.ServerURL = strings.Replace(baseURL, "http", "ws", 1) + "/ws"
	cfg.HistoryURL = baseURL
	cfg.BackoffBase = 20 * time.Millisecond
	cfg.HistoryPageSize = 10

	logger := zerolog.Nop()
	s := session.New(cfg, auth.Static(g.Token), session.Identity{UserID: g.UserID, Username: g.Username}, &logger)
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s
}

func waitState(t *testing.T, s *session.Session, want status.ConnectionState) {
	t.Helper()
	waitCond(t, 3*time.Second, func() bool { return s.State() == want })
}

func waitCond(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHistoryEndpointRequiresAuth(t *testing.T) {
	ts, _ := newSimServer(t)

	resp, err := http.Get(ts.URL + "/api/messages?room_id=r1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStorePagination(t *testing.T) {
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for i := 1; i <= 5; i++ {
		err := store.SaveMessage(ctx, &StoredMessage{
			ID: "m" + string(rune('0'+i)), RoomID: "r1", SenderID: "u1", SenderName: "U",
			Content: "c", MessageType: "text", CreatedAt: int64(i * 1000),
		})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	// Page 1 holds the newest messages, page 2 the older remainder.
	page1, err := store.ListPage(ctx, "r1", 1, 2)
	if err != nil {
		t.Fatalf("page 1: %v", err)
	}
	if len(page1) != 2 || page1[0].ID != "m5" || page1[1].ID != "m4" {
		t.Fatalf("unexpected page 1: %+v", page1)
	}

	page3, err := store.ListPage(ctx, "r1", 3, 2)
	if err != nil {
		t.Fatalf("page 3: %v", err)
	}
	if len(page3) != 1 || page3[0].ID != "m1" {
		t.Fatalf("unexpected page 3: %+v", page3)
	}
}

func TestEndToEndMessageFlow(t *testing.T) {
	ts, _ := newSimServer(t)

	alice := startClient(t, ts.URL, guestLogin(t, ts.URL, "alice"))
	bob := startClient(t, ts.URL, guestLogin(t, ts.URL, "bob"))

	alice.Connect()
	bob.Connect()
	waitState(t, alice, status.StateConnected)
	waitState(t, bob, status.StateConnected)

	alice.Join("general")
	bob.Join("general")
	time.Sleep(100 * time.Millisecond) // joins are fire-and-forget

	sent := alice.Send("general", "hi bob", "text")
	if sent.Confirmed {
		t.Fatal("optimistic entry must start unconfirmed")
	}

	// Alice reconciles her echo; bob receives the confirmed message.
	waitCond(t, 3*time.Second, func() bool {
		msgs := alice.Messages("general")
		return len(msgs) == 1 && msgs[0].Confirmed && strings.HasPrefix(msgs[0].ID, "srv-")
	})
	waitCond(t, 3*time.Second, func() bool {
		msgs := bob.Messages("general")
		return len(msgs) == 1 && msgs[0].Content == "hi bob" && msgs[0].SenderName == "alice"
	})

	// The message is persisted and comes back through history pagination.
	carol := startClient(t, ts.URL, guestLogin(t, ts.URL, "carol"))
	carol.Connect()
	waitState(t, carol, status.StateConnected)
	carol.Join("general")
	if err := carol.LoadHistory("general", 1); err != nil {
		t.Fatalf("load history: %v", err)
	}
	msgs := carol.Messages("general")
	if len(msgs) != 1 || msgs[0].Content != "hi bob" || !msgs[0].Confirmed {
		t.Fatalf("unexpected history: %+v", msgs)
	}
}

func TestTypingFanOutSkipsSender(t *testing.T) {
	ts, _ := newSimServer(t)

	alice := startClient(t, ts.URL, guestLogin(t, ts.URL, "alice"))
	bob := startClient(t, ts.URL, guestLogin(t, ts.URL, "bob"))

	alice.Connect()
	bob.Connect()
	waitState(t, alice, status.StateConnected)
	waitState(t, bob, status.StateConnected)

	alice.Join("general")
	bob.Join("general")
	time.Sleep(100 * time.Millisecond)

	alice.StartTyping("general")

	waitCond(t, 3*time.Second, func() bool {
		ty := bob.Typists("general")
		return len(ty) == 1
	})
	if ty := alice.Typists("general"); len(ty) != 0 {
		t.Fatalf("sender must not see itself typing: %v", ty)
	}

	alice.StopTyping("general")
	waitCond(t, 3*time.Second, func() bool { return len(bob.Typists("general")) == 0 })
}
