// Package telegram talks to the Telegram Bot API: it sends reminder messages
// and serves the webhook that receives button presses.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/mohans/remindx/notify"
)

const defaultBaseURL = "https://api.telegram.org"

type Options struct {
	Token      string
	BaseURL    string // default https://api.telegram.org
	HTTPClient *http.Client
	// Rate is the sustained message rate per second; Burst the bucket size.
	Rate   float64
	Burst  int
	Logger logrus.FieldLogger
}

// Client is a minimal Bot API client.
type Client struct {
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 20 * time.Second}
	}
	r, burst := opts.Rate, opts.Burst
	if r <= 0 {
		r = 25
	}
	if burst <= 0 {
		burst = 5
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		base:    base + "/bot" + opts.Token + "/",
		http:    hc,
		limiter: rate.NewLimiter(rate.Limit(r), burst),
		log:     log.WithField("component", "telegram"),
	}
}

type inlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

type replyMarkup struct {
	InlineKeyboard [][]inlineButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      string       `json:"chat_id"`
	Text        string       `json:"text"`
	ParseMode   string       `json:"parse_mode,omitempty"`
	ReplyMarkup *replyMarkup `json:"reply_markup,omitempty"`
}

// SendMessage posts a Markdown message. Buttons are laid out on one row.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, buttons []notify.Button) error {
	req := sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"}
	if len(buttons) > 0 {
		row := make([]inlineButton, 0, len(buttons))
		for _, b := range buttons {
			row = append(row, inlineButton{Text: b.Label, CallbackData: b.Action})
		}
		req.ReplyMarkup = &replyMarkup{InlineKeyboard: [][]inlineButton{row}}
	}
	return c.call(ctx, "sendMessage", req)
}

// AnswerCallback acknowledges a button press so the client stops its spinner.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return c.call(ctx, "answerCallbackQuery", map[string]string{
		"callback_query_id": callbackID,
		"text":              text,
	})
}

// Send implements notify.Sender.
func (c *Client) Send(ctx context.Context, chatID, text string, buttons []notify.Button) bool {
	if err := c.SendMessage(ctx, chatID, text, buttons); err != nil {
		c.log.WithField("chat_id", chatID).Errorf("send message: %v", err)
		return false
	}
	return true
}

func (c *Client) call(ctx context.Context, method string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+method, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, redact(err))
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)

	var r struct {
		OK          bool   `json:"ok"`
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("%s status=%d: decode response: %w", method, res.StatusCode, err)
	}
	if !r.OK {
		return fmt.Errorf("%s api error code=%d description=%s", method, r.ErrorCode, r.Description)
	}
	return nil
}

// redact drops the request URL, which carries the bot token, from transport
// errors.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
