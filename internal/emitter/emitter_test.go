package emitter_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greengrove/tut-engine/internal/domain"
	"github.com/greengrove/tut-engine/internal/emitter"
	"github.com/greengrove/tut-engine/internal/logger"
	"github.com/greengrove/tut-engine/internal/messaging"
	"github.com/greengrove/tut-engine/internal/mocks"
	"github.com/greengrove/tut-engine/internal/store/storetest"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	err := logger.Initialize(logger.Config{
		Debug: false,
	})
	if err != nil {
		panic(err)
	}

	code := m.Run()
	os.Exit(code)
}

// fakeSubscriber feeds a fixed set of events to the handler, then signals fed
// and blocks until the context is cancelled.
type fakeSubscriber struct {
	events      []*domain.ChainTokenEvent
	latestBlock uint64
	err         error

	mu        sync.Mutex
	fromBlock uint64
	closed    bool
	fed       chan struct{}
}

func newFakeSubscriber(latestBlock uint64, events ...*domain.ChainTokenEvent) *fakeSubscriber {
	return &fakeSubscriber{
		events:      events,
		latestBlock: latestBlock,
		fed:         make(chan struct{}),
	}
}

func (f *fakeSubscriber) SubscribeTokenEvents(ctx context.Context, fromBlock uint64, handler messaging.TokenEventHandler) error {
	f.mu.Lock()
	f.fromBlock = fromBlock
	f.mu.Unlock()

	if f.err != nil {
		return f.err
	}

	for _, event := range f.events {
		_ = handler(event)
	}
	close(f.fed)

	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeSubscriber) GetLatestBlock(_ context.Context) (uint64, error) {
	return f.latestBlock, nil
}

func (f *fakeSubscriber) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSubscriber) subscribedFrom() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fromBlock
}

func chainEvent(block uint64, amount int64) *domain.ChainTokenEvent {
	return &domain.ChainTokenEvent{
		Type:        domain.TransactionTypeReward,
		Wallet:      "0x1111111111111111111111111111111111111111",
		Amount:      amount,
		TxHash:      "0xabc",
		BlockNumber: block,
	}
}

func newTestClock(t *testing.T) *mocks.MockClock {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(testNow).AnyTimes()
	clock.EXPECT().Since(gomock.Any()).Return(time.Duration(0)).AnyTimes()
	return clock
}

func runEmitter(t *testing.T, em emitter.Emitter) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- em.Run(ctx)
	}()
	return cancel, resultCh
}

func waitFed(t *testing.T, sub *fakeSubscriber) {
	t.Helper()
	select {
	case <-sub.fed:
	case <-time.After(5 * time.Second):
		t.Fatal("subscriber never received events")
	}
}

func TestRunPublishesEventsAndSavesCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := newFakeSubscriber(100, chainEvent(10, 5), chainEvent(11, 7), chainEvent(12, 9))
	st := storetest.New()

	var published []*domain.ChainTokenEvent
	publisher := mocks.NewMockPublisher(ctrl)
	publisher.EXPECT().
		PublishChainEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, event *domain.ChainTokenEvent) error {
			published = append(published, event)
			return nil
		}).
		Times(3)

	em := emitter.NewEmitter(sub, publisher, st, emitter.Config{
		Chain:           "tut:sepolia",
		StartBlock:      10,
		CursorSaveFreq:  1,
		CursorSaveDelay: time.Hour,
	}, newTestClock(t))

	cancel, resultCh := runEmitter(t, em)
	waitFed(t, sub)
	cancel()

	require.ErrorIs(t, <-resultCh, context.Canceled)
	require.Len(t, published, 3)
	assert.Equal(t, int64(5), published[0].Amount)

	cursor, err := st.GetBlockCursor(context.Background(), "tut:sepolia")
	require.NoError(t, err)
	assert.Equal(t, uint64(12), cursor)
}

func TestRunResumesFromSavedCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := newFakeSubscriber(100)
	st := storetest.New()
	require.NoError(t, st.SetBlockCursor(context.Background(), "tut:sepolia", 41))

	em := emitter.NewEmitter(sub, mocks.NewMockPublisher(ctrl), st, emitter.Config{
		Chain:           "tut:sepolia",
		CursorSaveFreq:  1,
		CursorSaveDelay: time.Hour,
	}, newTestClock(t))

	cancel, resultCh := runEmitter(t, em)
	waitFed(t, sub)
	cancel()
	require.ErrorIs(t, <-resultCh, context.Canceled)

	// Picks up one past the last processed block
	assert.Equal(t, uint64(42), sub.subscribedFrom())
}

func TestRunStartsFromLatestWithoutCursor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := newFakeSubscriber(750)

	em := emitter.NewEmitter(sub, mocks.NewMockPublisher(ctrl), storetest.New(), emitter.Config{
		Chain:           "tut:sepolia",
		CursorSaveFreq:  1,
		CursorSaveDelay: time.Hour,
	}, newTestClock(t))

	cancel, resultCh := runEmitter(t, em)
	waitFed(t, sub)
	cancel()
	require.ErrorIs(t, <-resultCh, context.Canceled)

	assert.Equal(t, uint64(750), sub.subscribedFrom())
}

func TestRunReturnsSubscriptionError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := newFakeSubscriber(100)
	sub.err = errors.New("websocket dropped")

	em := emitter.NewEmitter(sub, mocks.NewMockPublisher(ctrl), storetest.New(), emitter.Config{
		Chain:           "tut:sepolia",
		StartBlock:      1,
		CursorSaveFreq:  1,
		CursorSaveDelay: time.Hour,
	}, newTestClock(t))

	err := em.Run(context.Background())
	assert.ErrorContains(t, err, "websocket dropped")
}

func TestCloseClosesSubscriber(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sub := newFakeSubscriber(100)

	em := emitter.NewEmitter(sub, mocks.NewMockPublisher(ctrl), storetest.New(), emitter.Config{}, newTestClock(t))
	em.Close()

	assert.True(t, sub.closed)
}
