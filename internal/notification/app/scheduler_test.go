package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notisend/gateway/internal/notification/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type schedulerTestComponents struct {
	scheduler   *Scheduler
	messageRepo *MockMessageRepository
	eventRepo   *MockEventRepository
	publisher   *MockJobPublisher
}

func setupSchedulerTest(batchSize int) schedulerTestComponents {
	messageRepo := new(MockMessageRepository)
	eventRepo := new(MockEventRepository)
	publisher := new(MockJobPublisher)
	db := &fakeDB{}
	dispatcher := NewDispatcher(db, messageRepo, eventRepo, publisher, testLogger())
	scheduler := NewScheduler(db, messageRepo, dispatcher, SchedulerConfig{
		PollingInterval: time.Minute,
		BatchSize:       batchSize,
	}, testLogger())
	return schedulerTestComponents{scheduler, messageRepo, eventRepo, publisher}
}

func scheduledMessage(id string, channels ...domain.Channel) *domain.Message {
	env := testEnvelope()
	env.Channels = channels
	at := time.Now().Add(-time.Minute).UTC()
	env.ScheduleAt = &at
	return &domain.Message{
		ID:        id,
		ProjectID: "proj-1",
		Status:    domain.MessageStatusPending,
		Envelope:  *env,
	}
}

func TestScheduler_DispatchesDueBatch(t *testing.T) {
	comps := setupSchedulerTest(10)
	due := []*domain.Message{
		scheduledMessage("msg-1", domain.ChannelEmail),
		scheduledMessage("msg-2", domain.ChannelEmail, domain.ChannelSMS),
	}

	comps.messageRepo.On("AcquireDueScheduled", mock.Anything, mock.Anything, mock.AnythingOfType("time.Time"), 10).
		Return(due, nil).Once()
	comps.publisher.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(nil).Times(3)
	comps.messageRepo.On("UpdateStatus", mock.Anything, mock.Anything, "msg-1", domain.MessageStatusQueued).Return(nil).Once()
	comps.messageRepo.On("UpdateStatus", mock.Anything, mock.Anything, "msg-2", domain.MessageStatusQueued).Return(nil).Once()
	comps.eventRepo.On("Insert", mock.Anything, mock.Anything, eventOfType(domain.EventMessageQueued)).
		Return(nil).Times(2)

	count, err := comps.scheduler.PollAndDispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	comps.messageRepo.AssertExpectations(t)
	comps.publisher.AssertExpectations(t)
	comps.eventRepo.AssertExpectations(t)
}

func TestScheduler_EmptyBatchIsQuiet(t *testing.T) {
	comps := setupSchedulerTest(10)

	comps.messageRepo.On("AcquireDueScheduled", mock.Anything, mock.Anything, mock.AnythingOfType("time.Time"), 10).
		Return([]*domain.Message{}, nil).Once()

	count, err := comps.scheduler.PollAndDispatch(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	comps.publisher.AssertNotCalled(t, "Publish")
}

func TestScheduler_AcquireErrorPropagates(t *testing.T) {
	comps := setupSchedulerTest(10)
	dbErr := errors.New("lock timeout")

	comps.messageRepo.On("AcquireDueScheduled", mock.Anything, mock.Anything, mock.AnythingOfType("time.Time"), 10).
		Return(nil, dbErr).Once()

	_, err := comps.scheduler.PollAndDispatch(context.Background())
	assert.ErrorIs(t, err, dbErr)
}

func TestScheduler_DispatchErrorAbortsCycle(t *testing.T) {
	comps := setupSchedulerTest(5)
	due := []*domain.Message{
		scheduledMessage("msg-1", domain.ChannelEmail),
		scheduledMessage("msg-2", domain.ChannelEmail),
	}
	queueErr := errors.New("stream unavailable")

	comps.messageRepo.On("AcquireDueScheduled", mock.Anything, mock.Anything, mock.AnythingOfType("time.Time"), 5).
		Return(due, nil).Once()
	comps.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Return(queueErr).Once()

	_, err := comps.scheduler.PollAndDispatch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, queueErr)
	// The cycle stops on the first failure; the second message stays locked
	// until the transaction rolls back and becomes due again next poll.
	comps.publisher.AssertNumberOfCalls(t, "Publish", 1)
}

func TestScheduler_DefaultsApplied(t *testing.T) {
	messageRepo := new(MockMessageRepository)
	dispatcher := NewDispatcher(&fakeDB{}, messageRepo, new(MockEventRepository), new(MockJobPublisher), testLogger())
	s := NewScheduler(&fakeDB{}, messageRepo, dispatcher, SchedulerConfig{}, testLogger())

	assert.Equal(t, 15*time.Second, s.cfg.PollingInterval)
	assert.Equal(t, 50, s.cfg.BatchSize)
}

func TestScheduler_RunStopsOnContextCancel(t *testing.T) {
	comps := setupSchedulerTest(10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := comps.scheduler.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
