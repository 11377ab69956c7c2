package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-validation/internal/apperrors"
	"ms-validation/internal/config"
	"ms-validation/internal/logger"
	"ms-validation/internal/models"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type fakeReader struct {
	queue     []kafka.Message
	committed []kafka.Message
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		return kafka.Message{}, io.EOF
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Close() error {
	r.closed = true
	return nil
}

// MockReconciler is a mock implementation of the OfflineReconciler interface
type MockReconciler struct {
	mock.Mock
}

func (m *MockReconciler) ReconcileOfflineBatch(ctx context.Context, records []models.OfflineScanRecord, managerID string) (*models.ReconciliationSummary, error) {
	args := m.Called(ctx, records, managerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ReconciliationSummary), args.Error(1)
}

func testTopics() config.TopicConfig {
	return config.Load().Kafka.Topics
}

func quietLogger() *logger.Logger {
	return logger.NewConsoleLogger(io.Discard)
}

func TestPublishValidationRoutesByOutcome(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Topics: testTopics(), Logger: quietLogger()}
	ctx := context.Background()

	require.NoError(t, p.PublishValidation(ctx, models.ValidationEvent{ValidationID: "v1", TicketID: "t1", IsValid: true}))
	require.NoError(t, p.PublishValidation(ctx, models.ValidationEvent{ValidationID: "v2", TicketID: "t1", IsValid: false, Reason: "SCAN_LIMIT_REACHED"}))

	require.Len(t, w.messages, 2)
	assert.Equal(t, "ticketly.ticket.validated", w.messages[0].Topic)
	assert.Equal(t, "ticketly.validation.conflicts", w.messages[1].Topic)
	assert.Equal(t, []byte("t1"), w.messages[0].Key)

	var evt models.ValidationEvent
	require.NoError(t, json.Unmarshal(w.messages[1].Value, &evt))
	assert.Equal(t, "SCAN_LIMIT_REACHED", evt.Reason)
}

func TestPublishSyncCompleted(t *testing.T) {
	w := &fakeWriter{}
	p := &Producer{Writer: w, Topics: testTopics(), Logger: quietLogger()}

	err := p.PublishSyncCompleted(context.Background(), "manager-1", &models.ReconciliationSummary{ProcessedCount: 3, ConflictCount: 1})
	require.NoError(t, err)

	require.Len(t, w.messages, 1)
	assert.Equal(t, "ticketly.validation.sync_completed", w.messages[0].Topic)
	var evt SyncCompletedEvent
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &evt))
	assert.Equal(t, "manager-1", evt.ManagerID)
	assert.Equal(t, 3, evt.ProcessedCount)
	assert.WithinDuration(t, time.Now(), evt.CompletedAt, time.Minute)
}

func TestPublishSurfacesWriterError(t *testing.T) {
	p := &Producer{Writer: &fakeWriter{err: errors.New("no leader")}, Topics: testTopics()}
	assert.Error(t, p.PublishValidation(context.Background(), models.ValidationEvent{TicketID: "t1", IsValid: true}))
}

func TestConsumerCommitsEveryMessage(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}, {Offset: 3}}}
	c := NewConsumerWithReader(r, quietLogger())

	var seen []int64
	err := c.Start(context.Background(), func(_ context.Context, msg kafka.Message) error {
		seen = append(seen, msg.Offset)
		if msg.Offset == 2 {
			return errors.New("bad batch")
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 3}, seen)
	assert.Len(t, r.committed, 3)
	require.NoError(t, c.Close())
	assert.True(t, r.closed)
}

func immediateRetry(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(&backoff.ZeroBackOff{}, ctx)
}

func TestConsumerRetriesTransientFailure(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 7}}}
	c := NewConsumerWithReader(r, quietLogger(), WithRetryPolicy(immediateRetry))

	calls := 0
	err := c.Start(context.Background(), func(context.Context, kafka.Message) error {
		calls++
		if calls == 1 {
			return apperrors.ErrLockTimeout
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
	require.Len(t, r.committed, 1)
	assert.Equal(t, int64(7), r.committed[0].Offset)
}

func TestConsumerLeavesTransientFailureUncommittedOnShutdown(t *testing.T) {
	r := &fakeReader{queue: []kafka.Message{{Offset: 1}, {Offset: 2}}}
	c := NewConsumerWithReader(r, quietLogger(), WithRetryPolicy(immediateRetry))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := c.Start(ctx, func(context.Context, kafka.Message) error {
		calls++
		cancel()
		return apperrors.ErrStoreUnavailable
	})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Empty(t, r.committed)
	assert.Len(t, r.queue, 1)
}

func TestConsumerRedeliversBatchWithTransientRecords(t *testing.T) {
	rec := new(MockReconciler)
	value, err := json.Marshal(models.OfflineBatch{
		ManagerID: "manager-1",
		Records:   []models.OfflineScanRecord{{TicketID: "t1", ScannedAt: time.Now()}},
	})
	require.NoError(t, err)

	rec.On("ReconcileOfflineBatch", mock.Anything, mock.Anything, "manager-1").Return(&models.ReconciliationSummary{
		ErrorCount: 1,
		Results:    []models.OfflineRecordResult{{TicketID: "t1", Outcome: models.OutcomeError, Code: string(apperrors.CodeStoreUnavailable)}},
	}, nil).Once()
	rec.On("ReconcileOfflineBatch", mock.Anything, mock.Anything, "manager-1").Return(&models.ReconciliationSummary{
		ProcessedCount: 1,
		Results:        []models.OfflineRecordResult{{TicketID: "t1", Outcome: models.OutcomeProcessed}},
	}, nil).Once()

	r := &fakeReader{queue: []kafka.Message{{Offset: 4, Value: value}}}
	c := NewConsumerWithReader(r, quietLogger(), WithRetryPolicy(immediateRetry))
	require.NoError(t, c.Start(context.Background(), OfflineBatchHandler(rec, validator.New(), quietLogger())))

	rec.AssertNumberOfCalls(t, "ReconcileOfflineBatch", 2)
	assert.Len(t, r.committed, 1)
}

func TestOfflineBatchHandlerReportsTransientRecords(t *testing.T) {
	rec := new(MockReconciler)
	handler := OfflineBatchHandler(rec, validator.New(), quietLogger())
	value, err := json.Marshal(models.OfflineBatch{
		ManagerID: "manager-1",
		Records: []models.OfflineScanRecord{
			{TicketID: "t1", ScannedAt: time.Now()},
			{TicketID: "t2", ScannedAt: time.Now()},
		},
	})
	require.NoError(t, err)

	rec.On("ReconcileOfflineBatch", mock.Anything, mock.Anything, "manager-1").Return(&models.ReconciliationSummary{
		ErrorCount: 2,
		Results: []models.OfflineRecordResult{
			{TicketID: "t1", Outcome: models.OutcomeError, Code: string(apperrors.CodeTicketNotFound)},
			{TicketID: "t2", Outcome: models.OutcomeError, Code: string(apperrors.CodeLockTimeout)},
		},
	}, nil).Once()
	rec.On("ReconcileOfflineBatch", mock.Anything, mock.Anything, "manager-1").Return(&models.ReconciliationSummary{
		ErrorCount: 1,
		Results:    []models.OfflineRecordResult{{TicketID: "t1", Outcome: models.OutcomeError, Code: string(apperrors.CodeTicketNotFound)}},
	}, nil).Once()

	err = handler(context.Background(), kafka.Message{Value: value})
	require.Error(t, err)
	assert.True(t, apperrors.IsTransient(err))

	// input errors alone are final
	assert.NoError(t, handler(context.Background(), kafka.Message{Value: value}))
}

func TestOfflineBatchHandler(t *testing.T) {
	rec := new(MockReconciler)
	handler := OfflineBatchHandler(rec, validator.New(), quietLogger())
	scannedAt := time.Date(2026, 7, 1, 18, 30, 0, 0, time.UTC)

	batch := models.OfflineBatch{
		ManagerID: "manager-1",
		DeviceID:  "handheld-7",
		Records:   []models.OfflineScanRecord{{TicketID: "t1", ScannedAt: scannedAt}},
	}
	value, err := json.Marshal(batch)
	require.NoError(t, err)

	rec.On("ReconcileOfflineBatch", mock.Anything, mock.MatchedBy(func(records []models.OfflineScanRecord) bool {
		return len(records) == 1 && records[0].DeviceID == "handheld-7"
	}), "manager-1").Return(&models.ReconciliationSummary{ProcessedCount: 1}, nil).Once()

	require.NoError(t, handler(context.Background(), kafka.Message{Value: value}))
	rec.AssertExpectations(t)
}

func TestOfflineBatchHandlerRejectsBadInput(t *testing.T) {
	rec := new(MockReconciler)
	handler := OfflineBatchHandler(rec, validator.New(), quietLogger())

	assert.Error(t, handler(context.Background(), kafka.Message{Value: []byte("{not json")}))

	missingManager, _ := json.Marshal(models.OfflineBatch{Records: []models.OfflineScanRecord{{TicketID: "t1", ScannedAt: time.Now()}}})
	assert.Error(t, handler(context.Background(), kafka.Message{Value: missingManager}))

	empty, _ := json.Marshal(models.OfflineBatch{ManagerID: "m"})
	assert.Error(t, handler(context.Background(), kafka.Message{Value: empty}))

	rec.AssertNotCalled(t, "ReconcileOfflineBatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestTopicNames(t *testing.T) {
	names := TopicNames(testTopics())
	assert.Len(t, names, 4)
	assert.Contains(t, names, "ticketly.validation.offline_batches")
}
