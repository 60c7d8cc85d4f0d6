package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/straye-as/purchase-api/internal/config"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampleEmail(event domain.NotificationType) Email {
	created := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	delivery := "2024-03-15"
	return Email{
		Type: event,
		Request: RequestSnapshot{
			ID:          uuid.New(),
			PONumber:    domain.FormatPONumber(created),
			Description: "Office chairs",
			Department:  "Operations",
			Amount:      decimal.RequireFromString("35.00"),
			Items: []ItemLine{
				{Description: "Chair", Quantity: 2, Total: decimal.RequireFromString("20.00"), EstimatedDelivery: delivery},
				{Description: "Cushion", Quantity: 3, Total: decimal.RequireFromString("15.00"), EstimatedDelivery: delivery},
			},
			CreatedAt: created,
		},
		RequesterName: "Rita Requester",
		ApproverName:  "Alan Approver",
		Comment:       "Which model?",
		To:            []string{"rita@example.com"},
		CC:            []string{"alan@example.com"},
	}
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("noreply@example.com", "Purchasing", "https://purchase.example.com")
	require.NoError(t, err)
	return r
}

// ============================================================================
// Rendering
// ============================================================================

func TestSubject(t *testing.T) {
	tests := []struct {
		event    domain.NotificationType
		expected string
	}{
		{domain.NotificationSubmission, "New purchase request PO-2024-0301123045 from Rita Requester"},
		{domain.NotificationApproval, "Purchase request PO-2024-0301123045 approved"},
		{domain.NotificationRejection, "Purchase request PO-2024-0301123045 rejected"},
		{domain.NotificationMoreInfoRequested, "More information needed for purchase request PO-2024-0301123045"},
		{domain.NotificationPurchased, "Purchase request PO-2024-0301123045 purchased"},
	}

	for _, tt := range tests {
		t.Run(string(tt.event), func(t *testing.T) {
			subject, err := Subject(sampleEmail(tt.event))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, subject)
		})
	}

	_, err := Subject(Email{Type: "unknown"})
	assert.Error(t, err)
}

func TestRender_AllEvents(t *testing.T) {
	r := newTestRenderer(t)

	for event := range eventStyles {
		t.Run(string(event), func(t *testing.T) {
			email := sampleEmail(event)
			msg, err := r.Render(email)
			require.NoError(t, err)

			assert.Equal(t, "noreply@example.com", msg.From)
			assert.Equal(t, []string{"rita@example.com"}, msg.To)
			assert.Equal(t, []string{"alan@example.com"}, msg.CC)
			assert.Contains(t, msg.HTML, "PO-2024-0301123045")
			assert.Contains(t, msg.HTML, "Office chairs")
			assert.Contains(t, msg.HTML, "$35.00")
			assert.Contains(t, msg.HTML, "Chair")
			assert.Contains(t, msg.HTML, "$20.00")
			assert.Contains(t, msg.HTML, "https://purchase.example.com/requests/"+email.Request.ID.String())
		})
	}
}

func TestRender_EventSpecificContent(t *testing.T) {
	r := newTestRenderer(t)

	msg, err := r.Render(sampleEmail(domain.NotificationMoreInfoRequested))
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "Which model?")
	assert.Contains(t, msg.HTML, "Alan Approver")

	msg, err = r.Render(sampleEmail(domain.NotificationPurchased))
	require.NoError(t, err)
	assert.Contains(t, msg.HTML, "Estimated delivery")
	assert.Contains(t, msg.HTML, "2024-03-15")

	msg, err = r.Render(sampleEmail(domain.NotificationApproval))
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "Estimated delivery")
}

func TestRender_EscapesUserContent(t *testing.T) {
	r := newTestRenderer(t)
	email := sampleEmail(domain.NotificationRejection)
	email.Comment = "<script>alert(1)</script>"

	msg, err := r.Render(email)
	require.NoError(t, err)
	assert.NotContains(t, msg.HTML, "<script>")
	assert.Contains(t, msg.HTML, "&lt;script&gt;")
}

func TestRender_UnknownType(t *testing.T) {
	r := newTestRenderer(t)
	_, err := r.Render(Email{Type: "unknown"})
	assert.Error(t, err)
}

func TestSnapshotOf(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	delivery := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	req := &domain.PurchaseRequest{
		BaseModel:   domain.BaseModel{ID: uuid.New(), CreatedAt: created},
		Description: "Laptops",
		Department:  "IT",
		Amount:      decimal.RequireFromString("2000.00"),
		Items: []domain.RequestItem{
			{Description: "Laptop", Quantity: 2, Total: decimal.RequireFromString("2000.00"), EstimatedDeliveryDate: &delivery},
		},
	}

	snap := SnapshotOf(req)
	assert.Equal(t, req.ID, snap.ID)
	assert.Equal(t, "PO-2024-0301123045", snap.PONumber)
	assert.Equal(t, "IT", snap.Department)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, "2024-04-02", snap.Items[0].EstimatedDelivery)
	assert.Equal(t, "2000.00", snap.Items[0].Total.StringFixed(2))
}

// ============================================================================
// Senders
// ============================================================================

func TestBuildMIME(t *testing.T) {
	msg := &Message{
		From:     "noreply@example.com",
		FromName: "Purchasing",
		To:       []string{"a@example.com", "b@example.com"},
		CC:       []string{"c@example.com"},
		Subject:  "Purchase request PO-1 approved",
		HTML:     "<p>hi</p>",
	}

	raw := string(buildMIME(msg, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Contains(t, raw, "From: \"Purchasing\" <noreply@example.com>\r\n")
	assert.Contains(t, raw, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, raw, "Cc: c@example.com\r\n")
	assert.Contains(t, raw, "Subject: Purchase request PO-1 approved\r\n")
	assert.Contains(t, raw, "Content-Type: text/html")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>hi</p>"))
}

func TestSMTPSender_SendsToAllRecipients(t *testing.T) {
	s := NewSMTPSender("smtp.example.com", 587, "user", "secret")
	var gotAddr string
	var gotRcpt []string
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotRcpt = to
		return nil
	}

	err := s.Send(context.Background(), &Message{From: "noreply@example.com", To: []string{"a@example.com"}, CC: []string{"b@example.com"}})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, gotRcpt)

	err = s.Send(context.Background(), &Message{From: "noreply@example.com"})
	assert.Error(t, err)
}

func TestRelaySender_PostsJSON(t *testing.T) {
	var got relayPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewRelaySender(srv.URL, "key-123", 0, zap.NewNop())
	err := s.Send(context.Background(), &Message{
		From:    "noreply@example.com",
		To:      []string{"a@example.com"},
		CC:      []string{"b@example.com"},
		Subject: "subject",
		HTML:    "<p>body</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer key-123", auth)
	assert.Equal(t, []string{"a@example.com"}, got.To)
	assert.Equal(t, []string{"b@example.com"}, got.CC)
	assert.Equal(t, "subject", got.Subject)
}

func TestRelaySender_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewRelaySender(srv.URL, "", 2, zap.NewNop())
	require.NoError(t, s.Send(context.Background(), &Message{To: []string{"a@example.com"}}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestRelaySender_ClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad sender", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewRelaySender(srv.URL, "", 0, zap.NewNop())
	err := s.Send(context.Background(), &Message{To: []string{"a@example.com"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad sender")
}

func TestNewSender(t *testing.T) {
	s, err := NewSender(&config.EmailConfig{Mode: "log"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &LogSender{}, s)

	_, err = NewSender(&config.EmailConfig{Mode: "smtp"}, zap.NewNop())
	assert.Error(t, err)

	s, err = NewSender(&config.EmailConfig{Mode: "relay", RelayURL: "http://localhost"}, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &RelaySender{}, s)

	_, err = NewSender(&config.EmailConfig{Mode: "pigeon"}, zap.NewNop())
	assert.Error(t, err)
}

// ============================================================================
// Outbox
// ============================================================================

type recordingSender struct {
	mu   sync.Mutex
	sent []*Message
	err  error
}

func (s *recordingSender) Send(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type blockingSender struct {
	release chan struct{}
}

func (s *blockingSender) Send(ctx context.Context, msg *Message) error {
	<-s.release
	return nil
}

type memoryArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *memoryArchive) Put(ctx context.Context, key string, contentType string, data io.Reader) (string, int64, error) {
	b, _ := io.ReadAll(data)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return key, int64(len(b)), nil
}

func (a *memoryArchive) Get(ctx context.Context, storagePath string) (io.ReadCloser, error) {
	return nil, storage.ErrNotFound
}

func TestOutbox_DeliversAndDrainsOnClose(t *testing.T) {
	sender := &recordingSender{}
	archive := &memoryArchive{}
	o := NewOutbox(OutboxConfig{Workers: 2, QueueSize: 10}, newTestRenderer(t), sender, archive, zap.NewNop())

	for i := 0; i < 5; i++ {
		require.True(t, o.Enqueue(sampleEmail(domain.NotificationApproval)))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Close(ctx))

	assert.Equal(t, 5, sender.count())
	assert.Len(t, archive.keys, 5)
	for _, key := range archive.keys {
		assert.True(t, strings.HasPrefix(key, "emails/"))
		assert.True(t, strings.HasSuffix(key, "-approval.html"))
	}

	assert.False(t, o.Enqueue(sampleEmail(domain.NotificationApproval)))
}

func TestOutbox_FullQueueDropsWithWarning(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sender := &blockingSender{release: make(chan struct{})}
	o := NewOutbox(OutboxConfig{Workers: 1, QueueSize: 1}, newTestRenderer(t), sender, nil, zap.New(core))

	accepted := 0
	for i := 0; i < 10; i++ {
		if o.Enqueue(sampleEmail(domain.NotificationSubmission)) {
			accepted++
		}
	}
	assert.LessOrEqual(t, accepted, 3)
	assert.GreaterOrEqual(t, logs.FilterMessage("email queue full, dropping email").Len(), 7)

	close(sender.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Close(ctx))
}

func TestOutbox_SendFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sender := &recordingSender{err: errors.New("smtp down")}
	o := NewOutbox(OutboxConfig{Workers: 1, QueueSize: 4}, newTestRenderer(t), sender, nil, zap.New(core))

	email := sampleEmail(domain.NotificationRejection)
	require.True(t, o.Enqueue(email))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Close(ctx))

	entries := logs.FilterMessage("email delivery failed").All()
	require.Len(t, entries, 1)
	errField, ok := entries[0].ContextMap()["error"].(string)
	require.True(t, ok)
	assert.Contains(t, errField, "rejection")
	assert.Contains(t, errField, email.Request.ID.String())
	assert.Contains(t, errField, "smtp down")
}

func TestRenderPasswordReset(t *testing.T) {
	msg, err := newTestRenderer(t).RenderPasswordReset(PasswordResetEmail{
		To:        "rita@example.com",
		Name:      "Rita",
		Token:     "abc123",
		ExpiresAt: time.Date(2024, 3, 1, 13, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"rita@example.com"}, msg.To)
	assert.Empty(t, msg.CC)
	assert.Equal(t, "Reset your purchase request password", msg.Subject)
	assert.Contains(t, msg.HTML, "Hello Rita")
	assert.Contains(t, msg.HTML, "https://purchase.example.com/reset-password?token=abc123")
	assert.Contains(t, msg.HTML, "01 Mar 2024 13:00:00 UTC")
}

func TestOutbox_PasswordResetIsSentButNotArchived(t *testing.T) {
	sender := &recordingSender{}
	archive := &memoryArchive{}
	o := NewOutbox(OutboxConfig{Workers: 1, QueueSize: 4}, newTestRenderer(t), sender, archive, zap.NewNop())

	require.True(t, o.EnqueuePasswordReset(PasswordResetEmail{To: "rita@example.com", Name: "Rita", Token: "abc123", ExpiresAt: time.Now().Add(time.Hour)}))
	require.True(t, o.Enqueue(sampleEmail(domain.NotificationApproval)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, o.Close(ctx))

	assert.Equal(t, 2, sender.count())
	require.Len(t, archive.keys, 1)
	assert.True(t, strings.HasSuffix(archive.keys[0], "-approval.html"))

	assert.False(t, o.EnqueuePasswordReset(PasswordResetEmail{To: "rita@example.com"}))
}
