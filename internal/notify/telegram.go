package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Notifier 定义告警输送接口。投递失败由调用方记录日志后吞掉，
// 不影响内部状态（at-most-once, best-effort）。
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string) error
}

// Telegram 通过 Telegram Bot API 推送消息。
type Telegram struct {
	botToken string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegram 构造 Telegram 告警器。
func NewTelegram(botToken, baseURL string, timeout time.Duration, logger zerolog.Logger) *Telegram {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Telegram{
		botToken: botToken,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (t *Telegram) Notify(ctx context.Context, chatID int64, text string) error {
	payload := map[string]string{
		"chat_id": strconv.FormatInt(chatID, 10),
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	t.logger.Debug().Int64("chat_id", chatID).Msg("消息已发送 (Telegram)")
	return nil
}

// Nop 丢弃所有消息，未配置 bot token 时使用。
type Nop struct{}

// Notify 直接返回 nil。
func (Nop) Notify(ctx context.Context, chatID int64, text string) error { return nil }

var (
	_ Notifier = (*Telegram)(nil)
	_ Notifier = Nop{}
)
