package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/storage"
	"go.uber.org/zap"
)

const sendTimeout = 30 * time.Second

// OutboxConfig sizes the outbox
type OutboxConfig struct {
	Workers   int
	QueueSize int
}

// Outbox renders and sends emails on a bounded worker pool
type Outbox struct {
	renderer *Renderer
	sender   Sender
	archive  storage.Storage
	logger   *zap.Logger

	queue chan job
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewOutbox starts the outbox workers. archive may be nil.
func NewOutbox(cfg OutboxConfig, renderer *Renderer, sender Sender, archive storage.Storage, logger *zap.Logger) *Outbox {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	o := &Outbox{
		renderer: renderer,
		sender:   sender,
		archive:  archive,
		logger:   logger,
		queue:    make(chan job, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	go o.run(cfg.Workers)
	return o
}

// job is one queued message
type job interface {
	render(r *Renderer) (*Message, error)
	fields() []zap.Field
	// failure wraps a render or send error for the log
	failure(err error) error
	// archiveName is the file name of the archived copy; empty skips the archive
	archiveName() string
}

func (e Email) render(r *Renderer) (*Message, error) { return r.Render(e) }

func (e Email) fields() []zap.Field {
	return []zap.Field{zap.String("event", string(e.Type)), zap.String("request_id", e.Request.ID.String())}
}

func (e Email) failure(err error) error {
	return &domain.NotificationError{Event: e.Type, RequestID: e.Request.ID, Err: err}
}

func (e Email) archiveName() string {
	return e.Request.PONumber + "-" + string(e.Type) + ".html"
}

func (p PasswordResetEmail) render(r *Renderer) (*Message, error) { return r.RenderPasswordReset(p) }

func (p PasswordResetEmail) fields() []zap.Field {
	return []zap.Field{zap.String("event", "password_reset")}
}

func (p PasswordResetEmail) failure(err error) error {
	return fmt.Errorf("password reset email: %w", err)
}

func (p PasswordResetEmail) archiveName() string { return "" }

func (o *Outbox) run(workers int) {
	defer close(o.done)
	p := pool.New().WithMaxGoroutines(workers)
	for j := range o.queue {
		j := j
		p.Go(func() { o.deliver(j) })
	}
	p.Wait()
}

// Enqueue schedules an email without blocking. It returns false when the
// outbox is closed or the queue is full; the email is dropped in that case.
func (o *Outbox) Enqueue(email Email) bool {
	return o.enqueue(email)
}

// EnqueuePasswordReset schedules a reset link email the same way as Enqueue
func (o *Outbox) EnqueuePasswordReset(reset PasswordResetEmail) bool {
	return o.enqueue(reset)
}

func (o *Outbox) enqueue(j job) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		o.logger.Warn("email outbox closed, dropping email", j.fields()...)
		return false
	}

	select {
	case o.queue <- j:
		return true
	default:
		o.logger.Warn("email queue full, dropping email", j.fields()...)
		return false
	}
}

// Close stops accepting emails and waits for queued ones until ctx is done
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.queue)
	}
	o.mu.Unlock()

	select {
	case <-o.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Outbox) deliver(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	msg, err := j.render(o.renderer)
	if err == nil {
		err = o.sender.Send(ctx, msg)
	}
	if err != nil {
		o.logger.Warn("email delivery failed", zap.Error(j.failure(err)))
		return
	}

	o.logger.Debug("email sent", append(j.fields(), zap.Int("recipients", len(msg.To)+len(msg.CC)))...)

	if name := j.archiveName(); name != "" && o.archive != nil {
		o.archiveMessage(ctx, name, msg)
	}
}

func (o *Outbox) archiveMessage(ctx context.Context, name string, msg *Message) {
	key := storage.ArchiveKey("emails", name, time.Now())
	if _, _, err := o.archive.Put(ctx, key, "text/html; charset=utf-8", bytes.NewBufferString(msg.HTML)); err != nil {
		if !errors.Is(err, context.Canceled) {
			o.logger.Warn("failed to archive email", zap.String("key", key), zap.Error(err))
		}
	}
}
