package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"signal-relay/internal/logger"
)

const (
	telegramAPIBase = "https://api.telegram.org"

	// Telegram throttles bots to roughly one message per second per chat.
	minSendInterval = time.Second
)

// Telegram sends messages through the Bot API. Replies carry
// reply_to_message_id so lifecycle updates thread under their root message.
// Sends are paced to at least minSendInterval apart and retried once on a
// transient failure.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client

	mu       sync.Mutex
	lastSend time.Time
}

// NewTelegram creates a Telegram messenger for one chat
func NewTelegram(token, chatID string) *Telegram {
	return &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a new root message and returns its message id
func (t *Telegram) Send(ctx context.Context, text string) (int64, error) {
	return t.post(ctx, text, 0)
}

// Reply posts a message threaded under replyTo and returns its message id
func (t *Telegram) Reply(ctx context.Context, replyTo int64, text string) (int64, error) {
	return t.post(ctx, text, replyTo)
}

func (t *Telegram) post(ctx context.Context, text string, replyTo int64) (int64, error) {
	t.pace(ctx)

	id, err := t.postOnce(ctx, text, replyTo)
	if err == nil {
		return id, nil
	}
	if ctx.Err() != nil {
		return 0, err
	}

	logger.S().Warnf("Telegram send failed, retrying once: %v", err)
	t.pace(ctx)
	return t.postOnce(ctx, text, replyTo)
}

func (t *Telegram) postOnce(ctx context.Context, text string, replyTo int64) (int64, error) {
	apiURL := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)

	data := url.Values{}
	data.Set("chat_id", t.chatID)
	data.Set("text", text)
	if replyTo != 0 {
		data.Set("reply_to_message_id", strconv.FormatInt(replyTo, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL,
		strings.NewReader(data.Encode()))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("telegram API returned status %d: %s", resp.StatusCode, body)
	}

	var parsed struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, fmt.Errorf("decoding telegram response: %w", err)
	}
	if !parsed.OK {
		return 0, fmt.Errorf("telegram API reported failure: %s", body)
	}
	return parsed.Result.MessageID, nil
}

// pace waits until minSendInterval has passed since the previous send
func (t *Telegram) pace(ctx context.Context) {
	t.mu.Lock()
	wait := minSendInterval - time.Since(t.lastSend)
	if wait > 0 {
		t.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		t.mu.Lock()
	}
	t.lastSend = time.Now()
	t.mu.Unlock()
}
