package alerts

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"polyedge-bot/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const telegramBaseURL = "https://api.telegram.org"

type Telegram struct {
	enabled bool
	token   string
	chatID  string
	client  *resty.Client
	log     *zap.Logger
}

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat"`
	From      *User  `json:"from"`
	Text      string `json:"text"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      T      `json:"result"`
}

func NewTelegram(cfg config.TelegramConfig, log *zap.Logger) *Telegram {
	return newTelegram(cfg, log, telegramBaseURL, nil)
}

func newTelegram(cfg config.TelegramConfig, log *zap.Logger, baseURL string, httpClient *http.Client) *Telegram {
	var client *resty.Client
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	} else {
		client = resty.New()
	}
	client.SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(40 * time.Second).
		SetHeader("Content-Type", "application/json")
	if log == nil {
		log = zap.NewNop()
	}
	return &Telegram{
		enabled: cfg.Enabled,
		token:   strings.TrimSpace(cfg.Token),
		chatID:  strings.TrimSpace(cfg.ChatID),
		client:  client,
		log:     log,
	}
}

func (t *Telegram) Enabled() bool {
	return t != nil && t.enabled
}

func (t *Telegram) ChatID() string {
	if t == nil {
		return ""
	}
	return t.chatID
}

func (t *Telegram) Send(ctx context.Context, message string) error {
	if !t.Enabled() {
		return nil
	}
	if t.token == "" || t.chatID == "" {
		return errors.New("telegram token and chat_id are required")
	}
	if strings.TrimSpace(message) == "" {
		return errors.New("telegram message is empty")
	}
	var result apiResponse[any]
	resp, err := t.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"chat_id": t.chatID, "text": message}).
		SetResult(&result).
		Post("/bot" + t.token + "/sendMessage")
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("telegram send failed: http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if !result.OK {
		return fmt.Errorf("telegram send failed: %s", describe(result.Description))
	}
	return nil
}

// GetUpdates long-polls for bot updates starting at offset.
func (t *Telegram) GetUpdates(ctx context.Context, offset int64, wait time.Duration) ([]Update, error) {
	if !t.Enabled() {
		return nil, errors.New("telegram disabled")
	}
	if t.token == "" {
		return nil, errors.New("telegram token is required")
	}
	var result apiResponse[[]Update]
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"offset":          strconv.FormatInt(offset, 10),
			"timeout":         strconv.Itoa(int(wait / time.Second)),
			"allowed_updates": `["message"]`,
		}).
		SetResult(&result).
		Get("/bot" + t.token + "/getUpdates")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("telegram getUpdates failed: http %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram getUpdates failed: %s", describe(result.Description))
	}
	return result.Result, nil
}

func describe(desc string) string {
	desc = strings.TrimSpace(desc)
	if desc == "" {
		return "unknown telegram error"
	}
	return desc
}
