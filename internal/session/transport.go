package session

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirechat-client/internal/proto"
)

// transport owns one physical duplex connection to the server.
type transport struct {
	ws *websocket.Conn
}

// dialTransport opens an authenticated connection. The bearer token rides as
// a connection parameter, matching the server's websocket auth contract.
func dialTransport(ctx context.Context, serverURL, token string, timeout time.Duration) (*transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sep := "?"
	if strings.Contains(serverURL, "?") {
		sep = "&"
	}

	ws, _, err := websocket.Dial(dialCtx, serverURL+sep+"token="+url.QueryEscape(token), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", serverURL, err)
	}
	return &transport{ws: ws}, nil
}

func (t *transport) write(ctx context.Context, env proto.Envelope) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, t.ws, env)
}

// readRaw blocks until the next frame or a transport error.
func (t *transport) readRaw(ctx context.Context) ([]byte, error) {
	_, data, err := t.ws.Read(ctx)
	return data, err
}

func (t *transport) close(code websocket.StatusCode, reason string) {
	_ = t.ws.Close(code, reason)
}

// backoffDelay computes the retry delay before attempt n (zero-based):
// base * factor^n. Non-decreasing for factor >= 1.
func backoffDelay(base time.Duration, factor float64, attempt int) time.Duration {
	if factor < 1 {
		factor = 1
	}
	d := float64(base) * math.Pow(factor, float64(attempt))
	if d > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
