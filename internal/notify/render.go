package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/straye-as/purchase-api/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

type eventStyle struct {
	file    string
	heading string
	accent  string
	subject string
}

var eventStyles = map[domain.NotificationType]eventStyle{
	domain.NotificationSubmission: {
		file:    "submission.html",
		heading: "New purchase request",
		accent:  "#2563eb",
		subject: "New purchase request %s from %s",
	},
	domain.NotificationApproval: {
		file:    "approval.html",
		heading: "Request approved",
		accent:  "#16a34a",
		subject: "Purchase request %s approved",
	},
	domain.NotificationRejection: {
		file:    "rejection.html",
		heading: "Request rejected",
		accent:  "#dc2626",
		subject: "Purchase request %s rejected",
	},
	domain.NotificationMoreInfoRequested: {
		file:    "more_info_requested.html",
		heading: "More information needed",
		accent:  "#d97706",
		subject: "More information needed for purchase request %s",
	},
	domain.NotificationPurchased: {
		file:    "purchased.html",
		heading: "Request purchased",
		accent:  "#4f46e5",
		subject: "Purchase request %s purchased",
	},
}

type templateData struct {
	Email        Email
	Heading      string
	Accent       string
	Link         string
	ShowDelivery bool
}

const passwordResetSubject = "Reset your purchase request password"

// Renderer turns an Email into a Message
type Renderer struct {
	from      string
	fromName  string
	baseURL   string
	templates map[domain.NotificationType]*template.Template
	reset     *template.Template
}

// NewRenderer parses the embedded templates. baseURL, when set, adds a link to the request.
func NewRenderer(from, fromName, baseURL string) (*Renderer, error) {
	funcs := template.FuncMap{
		"money": func(d decimal.Decimal) string { return "$" + d.StringFixed(2) },
	}
	layout, err := template.New("layout.html").Funcs(funcs).ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email layout: %w", err)
	}

	r := &Renderer{
		from:      from,
		fromName:  fromName,
		baseURL:   baseURL,
		templates: make(map[domain.NotificationType]*template.Template, len(eventStyles)),
	}
	for event, style := range eventStyles {
		clone, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("failed to clone email layout: %w", err)
		}
		if _, err := clone.ParseFS(templateFS, "templates/"+style.file); err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", event, err)
		}
		r.templates[event] = clone
	}

	r.reset, err = template.ParseFS(templateFS, "templates/password_reset.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse password reset template: %w", err)
	}
	return r, nil
}

// Subject returns the subject line for an email
func Subject(email Email) (string, error) {
	style, ok := eventStyles[email.Type]
	if !ok {
		return "", fmt.Errorf("unknown email type: %s", email.Type)
	}
	if email.Type == domain.NotificationSubmission {
		return fmt.Sprintf(style.subject, email.Request.PONumber, email.RequesterName), nil
	}
	return fmt.Sprintf(style.subject, email.Request.PONumber), nil
}

// Render builds the message for an email
func (r *Renderer) Render(email Email) (*Message, error) {
	tmpl, ok := r.templates[email.Type]
	if !ok {
		return nil, fmt.Errorf("unknown email type: %s", email.Type)
	}
	subject, err := Subject(email)
	if err != nil {
		return nil, err
	}

	style := eventStyles[email.Type]
	data := templateData{
		Email:        email,
		Heading:      style.heading,
		Accent:       style.accent,
		ShowDelivery: email.Type == domain.NotificationPurchased,
	}
	if r.baseURL != "" {
		data.Link = r.baseURL + "/requests/" + email.Request.ID.String()
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		return nil, fmt.Errorf("failed to render %s email: %w", email.Type, err)
	}

	return &Message{
		From:     r.from,
		FromName: r.fromName,
		To:       append([]string(nil), email.To...),
		CC:       append([]string(nil), email.CC...),
		Subject:  subject,
		HTML:     buf.String(),
	}, nil
}

// RenderPasswordReset builds the message carrying a reset link
func (r *Renderer) RenderPasswordReset(reset PasswordResetEmail) (*Message, error) {
	data := struct {
		Name      string
		Link      string
		ExpiresAt string
	}{
		Name:      reset.Name,
		Link:      r.baseURL + "/reset-password?token=" + url.QueryEscape(reset.Token),
		ExpiresAt: reset.ExpiresAt.UTC().Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := r.reset.ExecuteTemplate(&buf, "password_reset", data); err != nil {
		return nil, fmt.Errorf("failed to render password reset email: %w", err)
	}
	return &Message{
		From:     r.from,
		FromName: r.fromName,
		To:       []string{reset.To},
		Subject:  passwordResetSubject,
		HTML:     buf.String(),
	}, nil
}
