package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"AdRelister/internal/ports"
)

const defaultAPIBase = "https://api.telegram.org"

// maxMessageLen is the Bot API limit for one sendMessage text, in characters.
const maxMessageLen = 4096

// Notifier posts batch outcomes to an operator chat via the bot API.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// WithAPIBase points the notifier at another Bot API host.
func (n *Notifier) WithAPIBase(base string, client *http.Client) *Notifier {
	n.apiBase = strings.TrimSuffix(base, "/")
	if client != nil {
		n.client = client
	}
	return n
}

// NotifyBatch posts a plain-text message.
func (n *Notifier) NotifyBatch(ctx context.Context, message string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	message = truncate(message, maxMessageLen)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", message)
	form.Set("disable_web_page_preview", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram error: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	return nil
}

// truncate cuts s to at most limit runes, ending with "..." when shortened.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	keep := limit - 3
	for i := range s {
		if keep == 0 {
			return s[:i] + "..."
		}
		keep--
	}
	return s
}
