package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"polyswarm/internal/model"
)

// Notifier delivers high-confidence pick alerts.
type Notifier interface {
	Notify(ctx context.Context, pick model.ConsensusPick) error
}

// TelegramNotifier pushes pick alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls the sendMessage API with a rendered pick summary.
func (n *TelegramNotifier) Notify(ctx context.Context, pick model.ConsensusPick) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(pick),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("market", pick.MarketID).
		Str("decision", string(pick.Decision)).
		Float64("percentage", pick.Percentage).
		Msg("pick alert sent")
	return nil
}

func renderMessage(pick model.ConsensusPick) string {
	builder := strings.Builder{}
	builder.WriteString("[Consensus Pick]\n")
	builder.WriteString(fmt.Sprintf("Market: %s\n", pick.Title))
	builder.WriteString(fmt.Sprintf("Decision: %s (%.1f%% of trading votes)\n", pick.Decision, pick.Percentage))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", pick.CreatedAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
