package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/notisend/gateway/internal/notification/faterr"
	"github.com/notisend/gateway/internal/notification/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type processorTestComponents struct {
	processor   *Processor
	messageRepo *MockMessageRepository
	attemptRepo *MockAttemptRepository
	eventRepo   *MockEventRepository
	provider    *MockChannelProvider
	registry    *provider.Registry
}

func setupProcessorTest(channel domain.Channel) processorTestComponents {
	messageRepo := new(MockMessageRepository)
	attemptRepo := new(MockAttemptRepository)
	eventRepo := new(MockEventRepository)
	prov := &MockChannelProvider{ProviderName: "mock-" + string(channel)}
	registry := provider.NewRegistry()
	registry.Register(channel, prov)

	db := &fakeDB{}
	aggregator := NewAggregator(db, messageRepo, attemptRepo, eventRepo, testLogger())
	processor := NewProcessor(db, messageRepo, attemptRepo, eventRepo, registry, aggregator, 5*time.Second, testLogger())
	return processorTestComponents{processor, messageRepo, attemptRepo, eventRepo, prov, registry}
}

func queuedMessage(channels ...domain.Channel) *domain.Message {
	env := testEnvelope()
	env.Channels = channels
	return &domain.Message{
		ID:             "msg-1",
		ProjectID:      "proj-1",
		IdempotencyKey: env.IdempotencyKey,
		Status:         domain.MessageStatusQueued,
		Envelope:       *env,
	}
}

// expectAttemptOpen wires the attempt-creation transaction: the attempt row
// gets an id and attempt.started is recorded.
func expectAttemptOpen(comps processorTestComponents, attemptID string) {
	comps.attemptRepo.On("Create", mock.Anything, mock.Anything, mock.AnythingOfType("*domain.Attempt")).
		Run(func(args mock.Arguments) {
			args.Get(2).(*domain.Attempt).ID = attemptID
		}).Return(&domain.Attempt{ID: attemptID}, nil).Once()
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventAttemptStarted)).
		Return(nil).Once()
}

// expectRecompute wires the aggregator's transaction for one Recompute call.
func expectRecompute(comps processorTestComponents, current domain.MessageStatus, attempts []domain.Attempt, next domain.MessageStatus) {
	comps.messageRepo.On("GetByIDForUpdate", mock.Anything, mock.Anything, "msg-1").
		Return(&domain.Message{ID: "msg-1", Status: current}, nil).Once()
	comps.attemptRepo.On("ListByMessage", mock.Anything, mock.Anything, "msg-1").
		Return(attempts, nil).Once()
	comps.messageRepo.On("UpdateStatus", mock.Anything, mock.Anything, "msg-1", next).
		Return(nil).Once()
}

func TestProcessor_SuccessfulDelivery(t *testing.T) {
	comps := setupProcessorTest(domain.ChannelEmail)
	job := domain.Job{MessageID: "msg-1", Channel: domain.ChannelEmail}
	msg := queuedMessage(domain.ChannelEmail)

	comps.messageRepo.On("GetByID", mock.Anything, mock.Anything, "msg-1").Return(msg, nil).Once()
	comps.provider.On("Validate", mock.Anything).Return(nil).Once()
	expectAttemptOpen(comps, "att-1")

	prep := &provider.PreparedMessage{Channel: domain.ChannelEmail, Data: "payload"}
	comps.provider.On("Prepare", mock.Anything).Return(prep, nil).Once()

	resp := &provider.Response{Success: true, ExternalID: "ext-9"}
	comps.provider.On("Send", mock.Anything, prep).Return(resp, nil).Once()
	comps.provider.On("MapEvents", resp, "msg-1").
		Return([]domain.Event{domain.NewAttemptEvent("msg-1", domain.EventAttemptSucceeded, domain.ChannelEmail, "mock-email", nil)}).Once()
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventAttemptSucceeded)).
		Return(nil).Once()
	comps.attemptRepo.On("Finish", mock.Anything, mock.Anything, "att-1", domain.AttemptStatusSucceeded, (*string)(nil), mock.AnythingOfType("time.Time")).
		Return(nil).Once()

	expectRecompute(comps, domain.MessageStatusProcessing,
		attemptsWith(domain.AttemptStatusSucceeded), domain.MessageStatusDelivered)
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventMessageDelivered)).
		Return(nil).Once()

	require.NoError(t, comps.processor.Process(context.Background(), job))

	// The attempt id reached the provider for vendor-side dedup.
	assert.Equal(t, "att-1", prep.AttemptID)
	comps.provider.AssertExpectations(t)
	comps.attemptRepo.AssertExpectations(t)
	comps.eventRepo.AssertExpectations(t)
}

func TestProcessor_UnknownMessageIsDropped(t *testing.T) {
	comps := setupProcessorTest(domain.ChannelEmail)

	comps.messageRepo.On("GetByID", mock.Anything, mock.Anything, "msg-gone").
		Return(nil, domain.ErrMessageNotFound).Once()

	err := comps.processor.Process(context.Background(), domain.Job{MessageID: "msg-gone", Channel: domain.ChannelEmail})
	assert.NoError(t, err)
	comps.attemptRepo.AssertNotCalled(t, "Create")
	comps.provider.AssertNotCalled(t, "Send")
}

func TestProcessor_DeliveredMessageIsSkipped(t *testing.T) {
	comps := setupProcessorTest(domain.ChannelEmail)
	msg := queuedMessage(domain.ChannelEmail)
	msg.Status = domain.MessageStatusDelivered

	comps.messageRepo.On("GetByID", mock.Anything, mock.Anything, "msg-1").Return(msg, nil).Once()

	err := comps.processor.Process(context.Background(), domain.Job{MessageID: "msg-1", Channel: domain.ChannelEmail})
	assert.NoError(t, err)
	comps.provider.AssertNotCalled(t, "Validate")
	comps.attemptRepo.AssertNotCalled(t, "Create")
}

func TestProcessor_UnsupportedChannelIsFatal(t *testing.T) {
	comps := setupProcessorTest(domain.ChannelEmail)
	msg := queuedMessage(domain.ChannelWhatsApp)

	comps.messageRepo.On("GetByID", mock.Anything, mock.Anything, "msg-1").Return(msg, nil).Once()

	err := comps.processor.Process(context.Background(), domain.Job{MessageID: "msg-1", Channel: domain.ChannelWhatsApp})
	require.Error(t, err)
	assert.True(t, faterr.IsFatal(err))
	assert.ErrorIs(t, err, domain.ErrNoProviderForChannel)
	comps.attemptRepo.AssertNotCalled(t, "Create")
}

func TestProcessor_ValidationRejectionIsFatalWithoutAttempt(t *testing.T) {
	comps := setupProcessorTest(domain.ChannelEmail)
	msg := queuedMessage(domain.ChannelEmail)

	comps.messageRepo.On("GetByID", mock.Anything, mock.Anything, "msg-1").Return(msg, nil).Once()
	comps.provider.On("Validate", mock.Anything).Return(errors.New("no email recipient")).Once()

	err := comps.processor.Process(context.Background(), domain.Job{MessageID: "msg-1", Channel: domain.ChannelEmail})
	require.Error(t, err)
	assert.True(t, faterr.IsFatal(err))
	comps.attemptRepo.AssertNotCalled(t, "Create")
	comps.provider.AssertNotCalled(t, "Send")
}

func TestProcessor_FatalVendorFailure(t *testing.T) {
	comps := setupProcessorTest(domain.ChannelEmail)
	msg := queuedMessage(domain.ChannelEmail)

	comps.messageRepo.On("GetByID", mock.Anything, mock.Anything, "msg-1").Return(msg, nil).Once()
	comps.provider.On("Validate", mock.Anything).Return(nil).Once()
	expectAttemptOpen(comps, "att-1")

	prep := &provider.PreparedMessage{Channel: domain.ChannelEmail}
	comps.provider.On("Prepare", mock.Anything).Return(prep, nil).Once()

	resp := &provider.Response{
		Success: false,
		Error:   &provider.Error{Code: "invalid_recipient", Message: "mailbox gone", HTTPStatus: 422},
	}
	comps.provider.On("Send", mock.Anything, prep).Return(resp, nil).Once()
	comps.provider.On("MapEvents", resp, "msg-1").
		Return([]domain.Event{domain.NewAttemptEvent("msg-1", domain.EventAttemptFailed, domain.ChannelEmail, "mock-email", nil)}).Once()
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventAttemptFailed)).
		Return(nil).Once()
	// Finish carries the serialized provider error.
	comps.attemptRepo.On("Finish", mock.Anything, mock.Anything, "att-1", domain.AttemptStatusFailed,
		mock.MatchedBy(func(detail *string) bool { return detail != nil && *detail != "" }),
		mock.AnythingOfType("time.Time")).Return(nil).Once()

	expectRecompute(comps, domain.MessageStatusProcessing,
		attemptsWith(domain.AttemptStatusFailed), domain.MessageStatusFailed)
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventMessageFailed)).
		Return(nil).Once()

	err := comps.processor.Process(context.Background(), domain.Job{MessageID: "msg-1", Channel: domain.ChannelEmail})
	require.Error(t, err)
	assert.True(t, faterr.IsFatal(err))
	comps.attemptRepo.AssertExpectations(t)
}

func TestProcessor_TransientVendorFailureRequestsRetry(t *testing.T) {
	comps := setupProcessorTest(domain.ChannelSMS)
	msg := queuedMessage(domain.ChannelSMS)

	comps.messageRepo.On("GetByID", mock.Anything, mock.Anything, "msg-1").Return(msg, nil).Once()
	comps.provider.On("Validate", mock.Anything).Return(nil).Once()
	expectAttemptOpen(comps, "att-1")

	prep := &provider.PreparedMessage{Channel: domain.ChannelSMS}
	comps.provider.On("Prepare", mock.Anything).Return(prep, nil).Once()

	resp := &provider.Response{
		Success: false,
		Error:   &provider.Error{Code: "rate_limited", Message: "slow down", HTTPStatus: 429},
	}
	comps.provider.On("Send", mock.Anything, prep).Return(resp, nil).Once()
	comps.provider.On("MapEvents", resp, "msg-1").
		Return([]domain.Event{domain.NewAttemptEvent("msg-1", domain.EventAttemptFailed, domain.ChannelSMS, "mock-sms", nil)}).Once()
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventAttemptFailed)).
		Return(nil).Once()
	comps.attemptRepo.On("Finish", mock.Anything, mock.Anything, "att-1", domain.AttemptStatusFailed, mock.Anything, mock.AnythingOfType("time.Time")).
		Return(nil).Once()

	expectRecompute(comps, domain.MessageStatusProcessing,
		attemptsWith(domain.AttemptStatusFailed), domain.MessageStatusFailed)
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventMessageFailed)).
		Return(nil).Once()

	err := comps.processor.Process(context.Background(), domain.Job{MessageID: "msg-1", Channel: domain.ChannelSMS})
	require.Error(t, err)
	assert.False(t, faterr.IsFatal(err))
	assert.Contains(t, err.Error(), "slow down")
}

func TestProcessor_SendTransportErrorFinishesAttempt(t *testing.T) {
	comps := setupProcessorTest(domain.ChannelEmail)
	msg := queuedMessage(domain.ChannelEmail)

	comps.messageRepo.On("GetByID", mock.Anything, mock.Anything, "msg-1").Return(msg, nil).Once()
	comps.provider.On("Validate", mock.Anything).Return(nil).Once()
	expectAttemptOpen(comps, "att-1")

	prep := &provider.PreparedMessage{Channel: domain.ChannelEmail}
	comps.provider.On("Prepare", mock.Anything).Return(prep, nil).Once()

	transportErr := errors.New("connection reset by peer")
	comps.provider.On("Send", mock.Anything, prep).Return(nil, transportErr).Once()

	// The exception path still leaves a durable trail.
	comps.attemptRepo.On("Finish", mock.Anything, mock.Anything, "att-1", domain.AttemptStatusFailed,
		mock.MatchedBy(func(detail *string) bool { return detail != nil && *detail == transportErr.Error() }),
		mock.AnythingOfType("time.Time")).Return(nil).Once()
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventAttemptFailed)).
		Return(nil).Once()

	expectRecompute(comps, domain.MessageStatusProcessing,
		attemptsWith(domain.AttemptStatusFailed), domain.MessageStatusFailed)
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventMessageFailed)).
		Return(nil).Once()

	err := comps.processor.Process(context.Background(), domain.Job{MessageID: "msg-1", Channel: domain.ChannelEmail})
	require.Error(t, err)
	assert.ErrorIs(t, err, transportErr)
	assert.False(t, faterr.IsFatal(err))
	comps.attemptRepo.AssertExpectations(t)
	comps.provider.AssertNotCalled(t, "MapEvents")
}

func TestProcessor_PrepareFailureIsFatal(t *testing.T) {
	comps := setupProcessorTest(domain.ChannelEmail)
	msg := queuedMessage(domain.ChannelEmail)

	comps.messageRepo.On("GetByID", mock.Anything, mock.Anything, "msg-1").Return(msg, nil).Once()
	comps.provider.On("Validate", mock.Anything).Return(nil).Once()
	expectAttemptOpen(comps, "att-1")

	comps.provider.On("Prepare", mock.Anything).Return(nil, errors.New("template rendering failed")).Once()

	comps.attemptRepo.On("Finish", mock.Anything, mock.Anything, "att-1", domain.AttemptStatusFailed, mock.Anything, mock.AnythingOfType("time.Time")).
		Return(nil).Once()
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventAttemptFailed)).
		Return(nil).Once()

	expectRecompute(comps, domain.MessageStatusProcessing,
		attemptsWith(domain.AttemptStatusFailed), domain.MessageStatusFailed)
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventMessageFailed)).
		Return(nil).Once()

	err := comps.processor.Process(context.Background(), domain.Job{MessageID: "msg-1", Channel: domain.ChannelEmail})
	require.Error(t, err)
	assert.True(t, faterr.IsFatal(err))
	comps.provider.AssertNotCalled(t, "Send")
}
