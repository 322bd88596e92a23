package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/provider"
	"github.com/notisend/gateway/internal/notification/repository"
	"github.com/stretchr/testify/mock"
)

// --- Fake transaction plumbing ---

// fakeTx satisfies pgx.Tx with no-ops. Repository calls inside transactions are
// mocked at the repository layer, so the tx itself never touches a database.
type fakeTx struct{}

func (fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return fakeTx{}, nil }
func (fakeTx) Commit(ctx context.Context) error          { return nil }
func (fakeTx) Rollback(ctx context.Context) error        { return nil }
func (fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (fakeTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (fakeTx) Conn() *pgx.Conn                                               { return nil }

// fakeDB satisfies DB; Begin hands out fakeTx so pgx.BeginFunc commits through
// the no-op transaction.
type fakeDB struct {
	fakeTx
	beginErr error
}

func (d *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	return fakeTx{}, nil
}

// --- Repository mocks ---

type MockMessageRepository struct {
	mock.Mock
}

func (m *MockMessageRepository) CreateIfAbsent(ctx context.Context, q repository.Querier, msg *domain.Message) (bool, error) {
	args := m.Called(ctx, q, msg)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageRepository) GetByID(ctx context.Context, q repository.Querier, id string) (*domain.Message, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) GetByProjectID(ctx context.Context, q repository.Querier, projectID, id string) (*domain.Message, error) {
	args := m.Called(ctx, q, projectID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) GetByIdempotencyKey(ctx context.Context, q repository.Querier, projectID, key string) (*domain.Message, error) {
	args := m.Called(ctx, q, projectID, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) GetByIDForUpdate(ctx context.Context, q repository.Querier, id string) (*domain.Message, error) {
	args := m.Called(ctx, q, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageRepository) UpdateStatus(ctx context.Context, q repository.Querier, id string, status domain.MessageStatus) error {
	args := m.Called(ctx, q, id, status)
	return args.Error(0)
}

func (m *MockMessageRepository) AcquireDueScheduled(ctx context.Context, q repository.Querier, due time.Time, limit int) ([]*domain.Message, error) {
	args := m.Called(ctx, q, due, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Message), args.Error(1)
}

type MockAttemptRepository struct {
	mock.Mock
}

func (m *MockAttemptRepository) Create(ctx context.Context, q repository.Querier, attempt *domain.Attempt) (*domain.Attempt, error) {
	args := m.Called(ctx, q, attempt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Attempt), args.Error(1)
}

func (m *MockAttemptRepository) Finish(ctx context.Context, q repository.Querier, id string, status domain.AttemptStatus, errDetail *string, finishedAt time.Time) error {
	args := m.Called(ctx, q, id, status, errDetail, finishedAt)
	return args.Error(0)
}

func (m *MockAttemptRepository) ListByMessage(ctx context.Context, q repository.Querier, messageID string) ([]domain.Attempt, error) {
	args := m.Called(ctx, q, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Attempt), args.Error(1)
}

type MockEventRepository struct {
	mock.Mock
}

func (m *MockEventRepository) Insert(ctx context.Context, q repository.Querier, event *domain.Event) error {
	args := m.Called(ctx, q, event)
	return args.Error(0)
}

func (m *MockEventRepository) ListByMessage(ctx context.Context, q repository.Querier, messageID string) ([]domain.Event, error) {
	args := m.Called(ctx, q, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Event), args.Error(1)
}

// --- Queue and provider mocks ---

type MockJobPublisher struct {
	mock.Mock
}

func (m *MockJobPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

type MockChannelProvider struct {
	mock.Mock
	ProviderName string
}

func (m *MockChannelProvider) Name() string {
	if m.ProviderName != "" {
		return m.ProviderName
	}
	return "mock-provider"
}

func (m *MockChannelProvider) Validate(env *domain.Envelope) error {
	args := m.Called(env)
	return args.Error(0)
}

func (m *MockChannelProvider) Prepare(env *domain.Envelope) (*provider.PreparedMessage, error) {
	args := m.Called(env)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.PreparedMessage), args.Error(1)
}

func (m *MockChannelProvider) Send(ctx context.Context, prep *provider.PreparedMessage) (*provider.Response, error) {
	args := m.Called(ctx, prep)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Response), args.Error(1)
}

func (m *MockChannelProvider) MapEvents(resp *provider.Response, messageID string) []domain.Event {
	args := m.Called(resp, messageID)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]domain.Event)
}

// eventOfType matches an event repository Insert argument by event type.
func eventOfType(t domain.EventType) any {
	return mock.MatchedBy(func(e *domain.Event) bool { return e.Type == t })
}
