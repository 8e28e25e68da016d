package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"time"

	"trade-core/internal/config"
)

// webhookChannel 向通用 webhook 地址 POST JSON 告警。
type webhookChannel struct {
	url    string
	client *http.Client
}

func newWebhookChannel(webhookURL string, timeout time.Duration) *webhookChannel {
	return &webhookChannel{
		url:    webhookURL,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *webhookChannel) Name() string { return "webhook" }

func (c *webhookChannel) Send(ctx context.Context, event, message string) error {
	payload, err := json.Marshal(map[string]string{
		"event":     event,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("序列化告警失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook 返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// botChannel 通过 Telegram Bot API 推送告警。
type botChannel struct {
	token  string
	chatID string
	client *http.Client
}

func newBotChannel(token, chatID string, timeout time.Duration) *botChannel {
	return &botChannel{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: timeout},
	}
}

func (c *botChannel) Name() string { return "bot" }

func (c *botChannel) Send(ctx context.Context, event, message string) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", c.token)
	form := url.Values{}
	form.Set("chat_id", c.chatID)
	form.Set("text", fmt.Sprintf("[%s] %s", event, message))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("构造请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bot 接口返回状态码 %d", resp.StatusCode)
	}
	return nil
}

// emailChannel 通过 SMTP 发送告警邮件。
type emailChannel struct {
	cfg config.EmailConfig
}

func newEmailChannel(cfg config.EmailConfig) *emailChannel {
	return &emailChannel{cfg: cfg}
}

func (c *emailChannel) Name() string { return "email" }

func (c *emailChannel) Send(ctx context.Context, event, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if c.cfg.Username != "" {
		auth = smtp.PlainAuth("", c.cfg.Username, c.cfg.Password, c.cfg.Host)
	}

	body := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: [trade-core] %s\r\n\r\n%s\r\n",
		c.cfg.From, strings.Join(c.cfg.To, ","), event, message)

	addr := fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port)
	if err := smtp.SendMail(addr, auth, c.cfg.From, c.cfg.To, []byte(body)); err != nil {
		return fmt.Errorf("SMTP 发送失败: %w", err)
	}
	return nil
}
