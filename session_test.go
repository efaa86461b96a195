package pwrmeter

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockSensor implements io.ReadWriteCloser and answers like a sensor.
type MockSensor struct {
	mu       sync.Mutex
	writes   []string
	closed   bool
	replies  map[string][]string
	readChan chan []byte
	done     chan struct{}
}

func NewMockSensor() *MockSensor {
	return &MockSensor{
		replies: map[string][]string{
			"IDN?":       {"ANRITSU,ML2437A,SER42,R1,FW9.9"},
			"TEMP?":      {"24.5"},
			"POW?":       {"-10.00"},
			"CFFREQ 2.4": {"OK"},
			"ZERO":       {"OK"},
		},
		readChan: make(chan []byte, 100),
		done:     make(chan struct{}),
	}
}

// SetReplies replaces the replies to cmd. The last one repeats.
func (m *MockSensor) SetReplies(cmd string, replies ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[cmd] = replies
}

func (m *MockSensor) Read(p []byte) (int, error) {
	select {
	case b := <-m.readChan:
		return copy(p, b), nil
	case <-m.done:
		return 0, io.EOF
	}
}

func (m *MockSensor) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, io.ErrClosedPipe
	}
	cmd := strings.TrimSuffix(string(p), "\n")
	m.writes = append(m.writes, cmd)
	replies := m.replies[cmd]
	if len(replies) == 0 {
		return len(p), nil
	}
	reply := replies[0]
	if len(replies) > 1 {
		m.replies[cmd] = replies[1:]
	}
	// NUL padding and a split line, as seen on real adapters.
	half := len(reply) / 2
	m.readChan <- []byte("\x00" + reply[:half])
	m.readChan <- []byte(reply[half:] + "\r\n")
	return len(p), nil
}

func (m *MockSensor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

func (m *MockSensor) Count(cmd string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, w := range m.writes {
		if w == cmd {
			n++
		}
	}
	return n
}

func (m *MockSensor) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

type updateLog struct {
	mu      sync.Mutex
	updates []Update
}

func (l *updateLog) hook(_ *Session, u Update) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, u)
}

func (l *updateLog) notices() []Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Notice
	for _, u := range l.updates {
		if n, ok := u.(Notice); ok {
			out = append(out, n)
		}
	}
	return out
}

func newTestSession(t *testing.T, sensor *MockSensor, log *updateLog) *Session {
	t.Helper()
	cfg := testConfig()
	cfg.PowerPollInterval = 5 * time.Millisecond
	cfg.ZeroDelay = 20 * time.Millisecond
	cfg.FrequencySettle = 10 * time.Millisecond
	cfg.Open = func(_ context.Context, name string) (io.ReadWriteCloser, error) {
		if name != "ttyTEST" {
			return nil, errors.New("no such port")
		}
		return sensor, nil
	}
	if log != nil {
		cfg.OnUpdate = log.hook
	}
	s, err := NewSession(context.Background(), &cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, s *Session, cond func(Snapshot) bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		return cond(s.Snapshot())
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewSession(t *testing.T) {
	t.Run("Nil config", func(t *testing.T) {
		s, err := NewSession(context.Background(), nil)
		assert.ErrorIs(t, err, ErrConfigRequired)
		assert.Nil(t, s)
	})

	t.Run("Missing opener", func(t *testing.T) {
		s, err := NewSession(context.Background(), &Config{})
		assert.ErrorIs(t, err, ErrConfigRequired)
		assert.Nil(t, s)
	})

	t.Run("Initial state", func(t *testing.T) {
		s := newTestSession(t, NewMockSensor(), nil)
		snap := s.Snapshot()
		assert.Equal(t, StatusDisconnected, snap.Status)
		assert.True(t, snap.Controls)
		assert.Equal(t, "- dBm", snap.Power.DbmText)
	})
}

func TestSession_ConnectAndIdentify(t *testing.T) {
	sensor := NewMockSensor()
	var transitions []DeviceStatus
	var mu sync.Mutex

	cfg := testConfig()
	cfg.Open = func(context.Context, string) (io.ReadWriteCloser, error) { return sensor, nil }
	cfg.StatusTransition = func(_ *Session, _, next DeviceStatus) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, next)
	}
	s, err := NewSession(context.Background(), &cfg)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Connect(context.Background(), "ttyTEST"))
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Status == StatusIdentified && snap.Temperature.Valid
	})

	snap := s.Snapshot()
	assert.Equal(t, Identity{ID: "SER42", Firmware: "FW9.9"}, snap.Identity)
	assert.Equal(t, "Temp: 24.5 °C", snap.Temperature.String())
	assert.Equal(t, "ttyTEST", snap.Port)

	mu.Lock()
	assert.Equal(t, []DeviceStatus{StatusConnecting, StatusIdentified}, transitions)
	mu.Unlock()

	assert.ErrorIs(t, s.Connect(context.Background(), "ttyTEST"), ErrAlreadyConnected)
}

func TestSession_ConnectOpenError(t *testing.T) {
	s := newTestSession(t, NewMockSensor(), nil)
	err := s.Connect(context.Background(), "ttyMISSING")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ttyMISSING")
	assert.Equal(t, StatusDisconnected, s.Snapshot().Status)
}

func TestSession_Measuring(t *testing.T) {
	sensor := NewMockSensor()
	s := newTestSession(t, sensor, nil)
	require.NoError(t, s.Connect(context.Background(), "ttyTEST"))
	waitFor(t, s, func(snap Snapshot) bool { return snap.Status == StatusIdentified })

	require.NoError(t, s.SetAttenuation(10))
	require.NoError(t, s.StartMeasuring())
	waitFor(t, s, func(snap Snapshot) bool { return snap.Power.Valid && snap.Metrics.Replies > 5 })

	snap := s.Snapshot()
	assert.Equal(t, "0.00 dBm", snap.Power.DbmText)
	assert.Equal(t, "1.000 mW", snap.Power.WattText)

	require.NoError(t, s.StopMeasuring())
	waitFor(t, s, func(snap Snapshot) bool {
		return !snap.Measuring && !snap.Metrics.InFlight && snap.Metrics.QueueLen == 0
	})
	polls := sensor.Count("POW?")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, polls, sensor.Count("POW?"))
}

func TestSession_SetFrequencyRetry(t *testing.T) {
	sensor := NewMockSensor()
	sensor.SetReplies("CFFREQ 2.4", "ERROR", "NO TERM", "OK")
	s := newTestSession(t, sensor, nil)
	require.NoError(t, s.Connect(context.Background(), "ttyTEST"))
	waitFor(t, s, func(snap Snapshot) bool { return snap.Status == StatusIdentified })

	require.NoError(t, s.SetFrequency(2400))
	waitFor(t, s, func(snap Snapshot) bool { return snap.Metrics.Retries == 2 && !snap.Metrics.InFlight })
	assert.Equal(t, 3, sensor.Count("CFFREQ 2.4"))
	assert.Equal(t, 2400.0, s.Snapshot().FrequencyMHz)
}

func TestSession_Zero(t *testing.T) {
	sensor := NewMockSensor()
	log := &updateLog{}
	s := newTestSession(t, sensor, log)
	require.NoError(t, s.Connect(context.Background(), "ttyTEST"))
	waitFor(t, s, func(snap Snapshot) bool { return snap.Status == StatusIdentified })
	require.NoError(t, s.StartMeasuring())
	waitFor(t, s, func(snap Snapshot) bool { return snap.Power.Valid })

	require.NoError(t, s.Zero())
	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Zero != ZeroIdle && !snap.Controls && !snap.Measuring
	})

	waitFor(t, s, func(snap Snapshot) bool {
		return snap.Zero == ZeroIdle && snap.Controls && snap.Measuring
	})
	assert.Equal(t, 1, sensor.Count("ZERO"))

	notices := log.notices()
	require.NotEmpty(t, notices)
	assert.Equal(t, NoticeInfo, notices[len(notices)-1].Level)
}

func TestSession_Disconnect(t *testing.T) {
	sensor := NewMockSensor()
	s := newTestSession(t, sensor, nil)
	require.NoError(t, s.Connect(context.Background(), "ttyTEST"))
	require.NoError(t, s.StartMeasuring())
	waitFor(t, s, func(snap Snapshot) bool { return snap.Power.Valid })

	require.NoError(t, s.Disconnect())
	waitFor(t, s, func(snap Snapshot) bool { return snap.Status == StatusDisconnected })
	assert.True(t, sensor.IsClosed())

	snap := s.Snapshot()
	assert.False(t, snap.Measuring)
	assert.False(t, snap.Power.Valid)
	assert.Zero(t, snap.Metrics.QueueLen)
	assert.False(t, snap.Metrics.InFlight)
	assert.Equal(t, "ID: -- | FW: --", snap.Identity.String())

	// A second disconnect is a no-op.
	require.NoError(t, s.Disconnect())
	assert.Equal(t, StatusDisconnected, s.Snapshot().Status)
}

func TestSession_ReadFailureDisconnects(t *testing.T) {
	sensor := NewMockSensor()
	log := &updateLog{}
	s := newTestSession(t, sensor, log)
	require.NoError(t, s.Connect(context.Background(), "ttyTEST"))
	waitFor(t, s, func(snap Snapshot) bool { return snap.Status == StatusIdentified })

	// Unplugging the adapter ends reads with an error.
	require.NoError(t, sensor.Close())
	waitFor(t, s, func(snap Snapshot) bool { return snap.Status == StatusDisconnected })

	notices := log.notices()
	require.NotEmpty(t, notices)
	assert.Equal(t, NoticeError, notices[0].Level)
	assert.ErrorIs(t, notices[0].Err, io.EOF)
}

func TestSession_Close(t *testing.T) {
	sensor := NewMockSensor()
	cfg := testConfig()
	cfg.Open = func(context.Context, string) (io.ReadWriteCloser, error) { return sensor, nil }
	s, err := NewSession(context.Background(), &cfg)
	require.NoError(t, err)
	require.NoError(t, s.Connect(context.Background(), "ttyTEST"))

	s.Close()
	s.Close()
	assert.True(t, sensor.IsClosed())
	assert.ErrorIs(t, s.StartMeasuring(), ErrSessionClosed)
	assert.ErrorIs(t, s.Connect(context.Background(), "ttyTEST"), ErrSessionClosed)
}
