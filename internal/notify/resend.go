package notify

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/playbell/apiserver/config"
	"github.com/playbell/apiserver/logger"
	"github.com/playbell/apiserver/types"
)

const resendEndpoint = "https://api.resend.com/emails"

// ResendMailer sends email through the Resend HTTP API. Without an API key
// every send is logged and skipped.
type ResendMailer struct {
	apiKey    string
	from      string
	publicURL string
	endpoint  string
	client    *http.Client
}

func NewResendMailer(cfg config.EmailConfig, publicURL string) *ResendMailer {
	if strings.TrimSpace(cfg.ResendAPIKey) == "" {
		logger.Warning("notify: RESEND_API_KEY not set, emails will not be sent")
	}
	return &ResendMailer{
		apiKey:    strings.TrimSpace(cfg.ResendAPIKey),
		from:      cfg.From,
		publicURL: strings.TrimRight(publicURL, "/"),
		endpoint:  resendEndpoint,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (m *ResendMailer) SendVerification(ctx context.Context, to types.AccountView, token string) error {
	link := m.link("/verify-email", token)
	body := emailBody(to, "Click the button below to verify your PlayBell account:", "Verify Account", "#00ffcc", link)
	return m.send(ctx, to, "Verify your PlayBell account", body)
}

func (m *ResendMailer) SendPasswordReset(ctx context.Context, to types.AccountView, token string) error {
	link := m.link("/reset-password", token)
	body := emailBody(to, "You requested a password reset for PlayBell.", "Reset Password", "#ff9800", link)
	return m.send(ctx, to, "Reset your PlayBell password", body)
}

func (m *ResendMailer) link(path, token string) string {
	return m.publicURL + path + "?token=" + url.QueryEscape(token)
}

func (m *ResendMailer) send(ctx context.Context, to types.AccountView, subject, body string) error {
	if m.apiKey == "" {
		logger.Infof("notify: email %q to %s skipped, no API key", subject, to.Username)
		return nil
	}
	if strings.TrimSpace(to.Email) == "" {
		logger.Infof("notify: %s has no email address, skipping %q", to.Username, subject)
		return nil
	}

	payload, err := json.Marshal(resendEmail{
		From:    m.from,
		To:      []string{to.Email},
		Subject: subject,
		HTML:    body,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+m.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("resend request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("resend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	logger.Infof("notify: email %q sent to %s", subject, to.Email)
	return nil
}

func emailBody(to types.AccountView, intro, action, color, link string) string {
	name := to.Name
	if name == "" {
		name = to.Username
	}
	escaped := html.EscapeString(link)
	return fmt.Sprintf(`<h2>Hello %s</h2>
<p>%s</p>
<a href="%s" style="padding:12px 18px;background:%s;color:#000;text-decoration:none;border-radius:6px;font-weight:bold;">%s</a>
<p>Or open this link:</p>
<code>%s</code>`, html.EscapeString(name), intro, escaped, color, action, escaped)
}
