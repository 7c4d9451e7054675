package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/merge"
)

// ErrFetchFailed reports a failed history page request. The engine never
// retries these automatically; the caller decides when to try again.
var ErrFetchFailed = errors.New("history fetch failed")

// wireMessage is one persisted message as the history service returns it.
type wireMessage struct {
	ID          string `json:"id"`
	ChatRoomID  string `json:"chat_room_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Content     string `json:"content"`
	MessageType string `json:"message_type"`
	CreatedAt   int64  `json:"created_at"`
}

type pageResponse struct {
	Success bool          `json:"success"`
	Data    []wireMessage `json:"data"`
}

// Client fetches paginated message history over REST. Pagination walks
// backward from the most recent messages.
type Client struct {
	baseURL string
	tokens  auth.TokenSource
	http    *http.Client
	log     *zerolog.Logger
}

// NewClient builds a history client for the given base URL.
func NewClient(baseURL string, tokens auth.TokenSource, logger *zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     logger,
	}
}

// FetchPage requests one history batch. Messages come back ready for the
// merger, already marked confirmed.
func (c *Client) FetchPage(ctx context.Context, roomID string, page, limit int) ([]merge.Message, error) {
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("history token: %w", err)
	}

	q := url.Values{}
	q.Set("room_id", roomID)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build history request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrFetchFailed, resp.StatusCode)
	}

	var body pageResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrFetchFailed, err)
	}
	if !body.Success {
		return nil, fmt.Errorf("%w: server reported failure", ErrFetchFailed)
	}

	msgs := make([]merge.Message, 0, len(body.Data))
	for _, wm := range body.Data {
		msgs = append(msgs, merge.Message{
			ID:         wm.ID,
			RoomID:     wm.ChatRoomID,
			SenderID:   wm.SenderID,
			SenderName: wm.SenderName,
			Content:    wm.Content,
			Type:       wm.MessageType,
			CreatedAt:  time.UnixMilli(wm.CreatedAt),
			Confirmed:  true,
		})
	}

	c.log.Debug().Str("room_id", roomID).Int("page", page).Int("count", len(msgs)).Msg("history page fetched")
	return msgs, nil
}
