package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/straye-as/purchase-api/internal/config"
	"go.uber.org/zap"
)

// NewSender creates the sender for the configured email mode
func NewSender(cfg *config.EmailConfig, logger *zap.Logger) (Sender, error) {
	switch cfg.Mode {
	case "", "log":
		return NewLogSender(logger), nil
	case "smtp":
		if cfg.SMTPHost == "" {
			return nil, fmt.Errorf("smtp host is required for smtp email mode")
		}
		return NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword), nil
	case "relay":
		if cfg.RelayURL == "" {
			return nil, fmt.Errorf("relay url is required for relay email mode")
		}
		return NewRelaySender(cfg.RelayURL, cfg.RelayAPIKey, cfg.RelayRetries, logger), nil
	default:
		return nil, fmt.Errorf("unsupported email mode: %s", cfg.Mode)
	}
}

// LogSender writes emails to the log instead of sending them
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.logger.Info("email (log mode)",
		zap.Strings("to", msg.To),
		zap.Strings("cc", msg.CC),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)))
	return nil
}

// SMTPSender delivers through an SMTP server with PLAIN auth
type SMTPSender struct {
	addr string
	host string
	auth smtp.Auth
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host string, port int, user, password string) *SMTPSender {
	s := &SMTPSender{
		addr: host + ":" + strconv.Itoa(port),
		host: host,
		send: smtp.SendMail,
	}
	if user != "" {
		s.auth = smtp.PlainAuth("", user, password, host)
	}
	return s
}

func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if len(msg.To) == 0 {
		return fmt.Errorf("email has no recipients")
	}
	body := buildMIME(msg, time.Now())
	rcpt := append(append([]string(nil), msg.To...), msg.CC...)

	done := make(chan error, 1)
	go func() {
		done <- s.send(s.addr, s.auth, msg.From, rcpt, body)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send email via smtp: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// buildMIME renders an RFC 5322 message with an HTML body
func buildMIME(msg *Message, now time.Time) []byte {
	from := (&mail.Address{Name: msg.FromName, Address: msg.From}).String()

	var b bytes.Buffer
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + strings.Join(msg.To, ", ") + "\r\n")
	if len(msg.CC) > 0 {
		b.WriteString("Cc: " + strings.Join(msg.CC, ", ") + "\r\n")
	}
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject) + "\r\n")
	b.WriteString("Date: " + now.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return b.Bytes()
}

// RelaySender posts emails as JSON to an HTTP email API and retries transient failures
type RelaySender struct {
	url    string
	apiKey string
	client *retryablehttp.Client
}

type relayPayload struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	CC      []string `json:"cc,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func NewRelaySender(url, apiKey string, retries int, logger *zap.Logger) *RelaySender {
	client := retryablehttp.NewClient()
	client.RetryMax = retries
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 5 * time.Second
	client.Logger = zapLeveledLogger{logger.Sugar()}
	return &RelaySender{url: url, apiKey: apiKey, client: client}
}

func (s *RelaySender) Send(ctx context.Context, msg *Message) error {
	from := msg.From
	if msg.FromName != "" {
		from = (&mail.Address{Name: msg.FromName, Address: msg.From}).String()
	}
	payload, err := json.Marshal(relayPayload{
		From:    from,
		To:      msg.To,
		CC:      msg.CC,
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, s.url, payload)
	if err != nil {
		return fmt.Errorf("failed to build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach email relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email relay returned %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}

// zapLeveledLogger adapts a sugared zap logger to retryablehttp.LeveledLogger
type zapLeveledLogger struct {
	s *zap.SugaredLogger
}

func (l zapLeveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l zapLeveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l zapLeveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l zapLeveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
