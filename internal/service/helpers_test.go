package service_test

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/straye-as/purchase-api/internal/domain"
	"github.com/straye-as/purchase-api/internal/notify"
	"github.com/straye-as/purchase-api/internal/repository"
	"github.com/straye-as/purchase-api/internal/service"
	"github.com/straye-as/purchase-api/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeQueue struct {
	mu     sync.Mutex
	emails []notify.Email
	resets []notify.PasswordResetEmail
	reject bool
}

func (q *fakeQueue) Enqueue(email notify.Email) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject {
		return false
	}
	q.emails = append(q.emails, email)
	return true
}

func (q *fakeQueue) all() []notify.Email {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]notify.Email(nil), q.emails...)
}

func (q *fakeQueue) EnqueuePasswordReset(reset notify.PasswordResetEmail) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.reject {
		return false
	}
	q.resets = append(q.resets, reset)
	return true
}

func (q *fakeQueue) allResets() []notify.PasswordResetEmail {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]notify.PasswordResetEmail(nil), q.resets...)
}

type publishedEvent struct {
	userID    uuid.UUID
	eventType string
}

type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *fakePublisher) Publish(userID uuid.UUID, eventType string, data interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{userID: userID, eventType: eventType})
}

func (p *fakePublisher) recipients() []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(p.events))
	for _, e := range p.events {
		ids = append(ids, e.userID)
	}
	return ids
}

// testEnv wires the request lifecycle against an in-memory store
type testEnv struct {
	db        *gorm.DB
	svc       *service.RequestService
	queue     *fakeQueue
	publisher *fakePublisher

	requester *domain.User
	other     *domain.User
	approver  *domain.User
	admin     *domain.User
	buyer     *domain.User
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithRunner(t, nil)
}

// newTestEnvWithRunner builds the environment; a nil runner means one database transaction per operation
func newTestEnvWithRunner(t *testing.T, runner repository.TransactionManager) *testEnv {
	t.Helper()
	db := testutil.SetupTestDB(t)
	if runner == nil {
		runner = repository.NewTransactionManager(db)
	}

	queue := &fakeQueue{}
	publisher := &fakePublisher{}
	userRepo := repository.NewUserRepository(db)
	dispatcher := service.NewDispatcher(userRepo, repository.NewNotificationRepository(db), queue, publisher, zap.NewNop())
	svc := service.NewRequestService(
		repository.NewRequestRepository(db),
		repository.NewRequestItemRepository(db),
		repository.NewVendorRepository(db),
		userRepo,
		service.NewLedger(repository.NewHistoryRepository(db)),
		dispatcher,
		runner,
		zap.NewNop(),
	)

	return &testEnv{
		db:        db,
		svc:       svc,
		queue:     queue,
		publisher: publisher,
		requester: testutil.CreateTestUser(t, db, "rita", domain.RoleRequester),
		other:     testutil.CreateTestUser(t, db, "oscar", domain.RoleRequester),
		approver:  testutil.CreateTestUser(t, db, "alan", domain.RoleApprover),
		admin:     testutil.CreateTestUser(t, db, "ada", domain.RoleAdmin),
		buyer:     testutil.CreateTestUser(t, db, "bea", domain.RoleBuyer),
	}
}

// failInserts makes every insert into table fail
func failInserts(t *testing.T, db *gorm.DB, table string) {
	t.Helper()
	err := db.Callback().Create().Before("gorm:create").Register("test:fail_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			_ = tx.AddError(errors.New("store unavailable"))
		}
	})
	require.NoError(t, err)
}

// failQueries makes reads of a table fail until the returned func is called
func failQueries(t *testing.T, db *gorm.DB, table string) func() {
	t.Helper()
	var active atomic.Bool
	active.Store(true)
	err := db.Callback().Query().Before("gorm:query").Register("test:fail_read_"+table, func(tx *gorm.DB) {
		if active.Load() && tx.Statement.Table == table {
			_ = tx.AddError(errors.New("store unavailable"))
		}
	})
	require.NoError(t, err)
	return func() { active.Store(false) }
}

func (e *testEnv) countRows(t *testing.T, model interface{}) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(model).Count(&n).Error)
	return n
}

func (e *testEnv) setStatus(t *testing.T, id uuid.UUID, status domain.RequestStatus) {
	t.Helper()
	require.NoError(t, e.db.Model(&domain.PurchaseRequest{}).Where("id = ?", id).Update("status", status).Error)
}

func (e *testEnv) notificationsFor(t *testing.T, requestID uuid.UUID) []domain.Notification {
	t.Helper()
	var ns []domain.Notification
	require.NoError(t, e.db.Where("request_id = ?", requestID).Find(&ns).Error)
	return ns
}

func recipientIDs(ns []domain.Notification) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(ns))
	for _, n := range ns {
		ids = append(ids, n.RecipientID)
	}
	return ids
}
