package internal_stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rapidaai/aicc-pipeline/pkg/commons"
)

type fakeSession struct {
	id string

	mu      sync.Mutex
	started bool
	stopped bool
	fed     [][]byte

	startErr error
}

func (f *fakeSession) ID() string { return f.id }

func (f *fakeSession) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) Feed(pcm []byte) {
	f.mu.Lock()
	f.fed = append(f.fed, pcm)
	f.mu.Unlock()
}

func (f *fakeSession) Stop() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *fakeSession) fedFrames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fed)
}

func (f *fakeSession) isStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type fakeSessionClient struct {
	mu       sync.Mutex
	sessions []*fakeSession
}

func (c *fakeSessionClient) newSession(id string, _ ResultCallback, _ ErrorCallback, _ Config, _ commons.Logger) session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &fakeSession{id: id}
	c.sessions = append(c.sessions, s)
	return s
}

func (c *fakeSessionClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *fakeSessionClient) at(i int) *fakeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[i]
}

func newTestContinuous(t *testing.T, client SessionClient) *ContinuousSession {
	t.Helper()
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)
	// Long rotation interval so the timer never fires during a test;
	// rotations are driven explicitly.
	cfg := Config{ProjectID: "p", RotationInterval: time.Hour}
	return NewContinuousSession(client, cfg, nil, logger)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestContinuous_StartCreatesActiveAndStandby(t *testing.T) {
	client := &fakeSessionClient{}
	cs := newTestContinuous(t, client)
	require.NoError(t, cs.Start(context.Background()))
	defer cs.Stop()

	waitFor(t, func() bool { return client.count() == 2 })

	cs.Feed([]byte{1, 2})
	assert.Equal(t, 1, client.at(0).fedFrames())
	assert.Equal(t, 0, client.at(1).fedFrames())
}

func TestContinuous_WarmRotationSwapsStandby(t *testing.T) {
	client := &fakeSessionClient{}
	cs := newTestContinuous(t, client)
	require.NoError(t, cs.Start(context.Background()))
	defer cs.Stop()

	waitFor(t, func() bool { return client.count() == 2 })
	waitFor(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.standby != nil
	})
	old, standby := client.at(0), client.at(1)

	cs.rotate()

	// New audio lands on the promoted standby.
	cs.Feed([]byte{9})
	assert.Equal(t, 1, standby.fedFrames())
	waitFor(t, old.isStopped)
	assert.Equal(t, 1, cs.Rotations())

	// The next standby is being prepared.
	waitFor(t, func() bool { return client.count() == 3 })
}

func TestContinuous_FallbackRotationWithoutStandby(t *testing.T) {
	client := &fakeSessionClient{}
	cs := newTestContinuous(t, client)
	require.NoError(t, cs.Start(context.Background()))
	defer cs.Stop()

	waitFor(t, func() bool { return client.count() == 2 })
	waitFor(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.standby != nil
	})

	// Force the standby away so the rotation has nothing warm to swap in.
	cs.mu.Lock()
	sb := cs.standby
	cs.standby = nil
	cs.mu.Unlock()
	if sb != nil {
		sb.Stop()
	}

	old := client.at(0)
	cs.rotate()

	// The replaced session is stopped off the rotation path.
	waitFor(t, old.isStopped)
	// Fallback created a brand-new inline session that now receives audio.
	cs.Feed([]byte{7})
	waitFor(t, func() bool {
		for i := 0; i < client.count(); i++ {
			s := client.at(i)
			if !s.isStopped() && s.fedFrames() == 1 {
				return true
			}
		}
		return false
	})
}

func TestContinuous_BuffersWhileRotating(t *testing.T) {
	client := &fakeSessionClient{}
	cs := newTestContinuous(t, client)
	require.NoError(t, cs.Start(context.Background()))
	defer cs.Stop()

	waitFor(t, func() bool { return client.count() == 2 })
	waitFor(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.standby != nil
	})
	standby := client.at(1)

	cs.mu.Lock()
	cs.rotating = true
	cs.mu.Unlock()

	cs.Feed([]byte{1})
	cs.Feed([]byte{2})
	assert.Equal(t, 0, standby.fedFrames())

	cs.rotate()
	// Buffered frames flushed into the new active in order.
	assert.Equal(t, 2, standby.fedFrames())
}

func TestContinuous_RotationBufferDropsOldest(t *testing.T) {
	client := &fakeSessionClient{}
	cs := newTestContinuous(t, client)
	require.NoError(t, cs.Start(context.Background()))
	defer cs.Stop()

	cs.mu.Lock()
	cs.rotating = true
	cs.mu.Unlock()

	half := make([]byte, rotationBufferCap/2)
	cs.Feed(half)
	cs.Feed(half)
	cs.Feed(half) // evicts the first chunk

	cs.mu.Lock()
	assert.Equal(t, 2, len(cs.rotationBuf))
	assert.LessOrEqual(t, cs.bufBytes, rotationBufferCap)
	cs.mu.Unlock()
}

func TestContinuous_AccumulatesFinalsWithSpace(t *testing.T) {
	client := &fakeSessionClient{}
	cs := newTestContinuous(t, client)

	cs.handleResult(Result{Transcript: "주문 내역을", IsFinal: true})
	cs.handleResult(Result{Transcript: "중간 가설", IsFinal: false})
	cs.handleResult(Result{Transcript: "확인하고 싶어요", IsFinal: true})

	assert.Equal(t, "주문 내역을 확인하고 싶어요", cs.SnapshotTranscript())
	// Snapshot resets the accumulator.
	assert.Equal(t, "", cs.SnapshotTranscript())
}

func TestContinuous_InterimTracked(t *testing.T) {
	client := &fakeSessionClient{}
	cs := newTestContinuous(t, client)

	cs.handleResult(Result{Transcript: "중간", IsFinal: false})
	assert.Equal(t, "중간", cs.InterimTranscript())
	cs.handleResult(Result{Transcript: "최종", IsFinal: true})
	assert.Equal(t, "", cs.InterimTranscript())
}

// recvBoundSession mirrors the real stream's shutdown contract: Stop waits
// for the receive goroutine to exit, and a failure fires the error callback
// from that same goroutine.
type recvBoundSession struct {
	id      string
	onError ErrorCallback

	mu      sync.Mutex
	fed     int
	stopped bool

	failCh   chan error
	stopCh   chan struct{}
	recvDone chan struct{}
	failOnce sync.Once
	stopOnce sync.Once
}

func newRecvBoundSession(id string, onError ErrorCallback) *recvBoundSession {
	return &recvBoundSession{
		id:       id,
		onError:  onError,
		failCh:   make(chan error, 1),
		stopCh:   make(chan struct{}),
		recvDone: make(chan struct{}),
	}
}

func (s *recvBoundSession) ID() string { return s.id }

func (s *recvBoundSession) Start(context.Context) error {
	go func() {
		defer close(s.recvDone)
		select {
		case err := <-s.failCh:
			s.onError(s.id, err)
		case <-s.stopCh:
		}
	}()
	return nil
}

func (s *recvBoundSession) Feed([]byte) {
	s.mu.Lock()
	s.fed++
	s.mu.Unlock()
}

func (s *recvBoundSession) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.recvDone
		s.mu.Lock()
		s.stopped = true
		s.mu.Unlock()
	})
}

func (s *recvBoundSession) fail(err error) {
	s.failOnce.Do(func() { s.failCh <- err })
}

func (s *recvBoundSession) fedFrames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fed
}

func (s *recvBoundSession) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

type recvBoundClient struct {
	mu       sync.Mutex
	sessions []*recvBoundSession
}

func (c *recvBoundClient) newSession(id string, _ ResultCallback, onError ErrorCallback, _ Config, _ commons.Logger) session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := newRecvBoundSession(id, onError)
	c.sessions = append(c.sessions, s)
	return s
}

func (c *recvBoundClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

func (c *recvBoundClient) at(i int) *recvBoundSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessions[i]
}

// A stream failure with no warm standby must still recover: the recovery
// rotation stops the dead session without waiting on the goroutine that
// reported the failure.
func TestContinuous_ErrorRecoveryWithoutStandby(t *testing.T) {
	client := &recvBoundClient{}
	cs := newTestContinuous(t, client)
	require.NoError(t, cs.Start(context.Background()))
	defer cs.Stop()

	waitFor(t, func() bool { return client.count() == 2 })
	waitFor(t, func() bool {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		return cs.standby != nil
	})

	// Remove the warm standby so recovery has to restart inline.
	cs.mu.Lock()
	sb := cs.standby
	cs.standby = nil
	cs.mu.Unlock()
	sb.Stop()

	failed := client.at(0)
	failed.fail(errors.New("stream reset by peer"))

	waitFor(t, func() bool { return cs.Rotations() == 1 })
	waitFor(t, failed.isStopped)

	// Live audio reaches the replacement instead of buffering forever.
	cs.Feed([]byte{1})
	waitFor(t, func() bool {
		for i := 0; i < client.count(); i++ {
			s := client.at(i)
			if !s.isStopped() && s.fedFrames() == 1 {
				return true
			}
		}
		return false
	})
}

// With a result callback attached, finals are handed over and never
// retained; a day-long call must not grow the snapshot accumulator.
func TestContinuous_CallbackConsumerSkipsAccumulation(t *testing.T) {
	logger, err := commons.NewApplicationLogger()
	require.NoError(t, err)

	finals := 0
	cs := NewContinuousSession(&fakeSessionClient{},
		Config{ProjectID: "p", RotationInterval: time.Hour},
		func(r Result) {
			if r.IsFinal {
				finals++
			}
		}, logger)

	for i := 0; i < 500; i++ {
		cs.handleResult(Result{Transcript: "네 알겠습니다", IsFinal: true})
	}

	assert.Equal(t, 500, finals)
	assert.Equal(t, "", cs.SnapshotTranscript())
	cs.mu.Lock()
	assert.Equal(t, "", cs.accumulated)
	cs.mu.Unlock()
}

func TestContinuous_StopStopsEverything(t *testing.T) {
	client := &fakeSessionClient{}
	cs := newTestContinuous(t, client)
	require.NoError(t, cs.Start(context.Background()))
	waitFor(t, func() bool { return client.count() == 2 })

	cs.Stop()
	assert.True(t, client.at(0).isStopped())
	assert.True(t, client.at(1).isStopped())
}
