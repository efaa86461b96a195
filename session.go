package pwrmeter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"
)

// connectRequest hands a freshly opened port to the event loop.
type connectRequest struct {
	name  string
	port  io.ReadWriteCloser
	reply chan error
}

func (connectRequest) isEvent() {}

// Session runs an Engine against a real transport. A single goroutine owns
// the engine; the exported methods only post events to it and are safe for
// concurrent use.
type Session struct {
	cfg    Config
	log    *slog.Logger
	engine *Engine

	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	done   chan struct{}

	// owned by the event loop goroutine
	port   io.ReadWriteCloser
	timers [numTimers]func()

	snapshot atomic.Pointer[Snapshot]
}

// NewSession creates a disconnected session and starts its event loop.
// The config must not be nil and must provide Open.
//
// Returns ErrConfigRequired if config is nil or Open is missing.
func NewSession(ctx context.Context, config *Config) (*Session, error) {
	if config == nil || config.Open == nil {
		return nil, ErrConfigRequired
	}
	cfg := config.withDefaults()
	s := &Session{
		cfg:    cfg,
		log:    cfg.Logger,
		engine: NewEngine(cfg),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	snap := s.engine.Snapshot()
	s.snapshot.Store(&snap)
	go s.loop()
	return s, nil
}

// Close disconnects and stops the event loop. It is safe to call more than once.
func (s *Session) Close() {
	s.cancel()
	<-s.done
}

// Done is closed when the event loop has stopped.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Snapshot returns the presentation state as of the last processed event.
func (s *Session) Snapshot() Snapshot {
	return *s.snapshot.Load()
}

// Metrics returns a copy of the engine statistics as of the last processed event.
func (s *Session) Metrics() Metrics {
	return s.Snapshot().Metrics
}

// Connect opens the named port and binds the engine to it. Open failures are
// returned to the caller.
func (s *Session) Connect(ctx context.Context, name string) error {
	if s.closed() {
		return ErrSessionClosed
	}
	if s.Snapshot().Status != StatusDisconnected {
		return ErrAlreadyConnected
	}
	port, err := s.cfg.Open(ctx, name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	reply := make(chan error, 1)
	if err := s.post(connectRequest{name: name, port: port, reply: reply}); err != nil {
		port.Close()
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-s.done:
		return ErrSessionClosed
	}
}

// Do posts an operator action.
func (s *Session) Do(a UserAction) error {
	return s.post(a)
}

// Disconnect closes the port and resets the session state.
func (s *Session) Disconnect() error {
	return s.Do(UserAction{Kind: ActionDisconnect})
}

// StartMeasuring starts power polling.
func (s *Session) StartMeasuring() error {
	return s.Do(UserAction{Kind: ActionSetMeasuring, On: true})
}

// StopMeasuring stops power polling.
func (s *Session) StopMeasuring() error {
	return s.Do(UserAction{Kind: ActionSetMeasuring, On: false})
}

// ToggleMeasuring flips power polling.
func (s *Session) ToggleMeasuring() error {
	return s.Do(UserAction{Kind: ActionToggleMeasuring})
}

// SetFrequency tunes the sensor to mhz after the settle delay.
func (s *Session) SetFrequency(mhz float64) error {
	return s.Do(UserAction{Kind: ActionSetFrequency, MHz: mhz})
}

// SetAttenuation sets the offset added to readings.
func (s *Session) SetAttenuation(db float64) error {
	return s.Do(UserAction{Kind: ActionSetAttenuation, DB: db})
}

// Zero starts a zero calibration.
func (s *Session) Zero() error {
	return s.Do(UserAction{Kind: ActionZero})
}

// ApplyRange sets the attenuation from the table average over the range and,
// when connected, tunes the sensor to the middle of it.
func (s *Session) ApplyRange(startMHz, endMHz float64) error {
	return s.Do(UserAction{Kind: ActionApplyRange, MHz: startMHz, EndMHz: endMHz})
}

// SelectPreset applies the range of a named preset.
func (s *Session) SelectPreset(name string) error {
	return s.Do(UserAction{Kind: ActionSelectPreset, Name: name})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) post(ev Event) error {
	if s.closed() {
		return ErrSessionClosed
	}
	select {
	case s.events <- ev:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-s.ctx.Done():
		return ErrSessionClosed
	}
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			s.process(UserAction{Kind: ActionDisconnect})
			s.stopTimers()
			return
		case ev := <-s.events:
			s.process(ev)
		}
	}
}

// process handles ev and every event its effects produce before returning.
func (s *Session) process(ev Event) {
	backlog := []Event{ev}
	for len(backlog) > 0 {
		ev := backlog[0]
		backlog = backlog[1:]
		if req, ok := ev.(connectRequest); ok {
			if s.port != nil {
				req.port.Close()
				req.reply <- ErrAlreadyConnected
				continue
			}
			s.port = req.port
			ev = UserAction{Kind: ActionConnect, Name: req.name}
			req.reply <- nil
		}
		for _, eff := range s.engine.Handle(ev) {
			if next := s.apply(eff); next != nil {
				backlog = append(backlog, next)
			}
		}
	}
	snap := s.engine.Snapshot()
	s.snapshot.Store(&snap)
}

// apply executes one effect. A failed write is returned as a follow-up event.
func (s *Session) apply(eff Effect) Event {
	switch eff := eff.(type) {
	case Write:
		if s.port == nil {
			return nil
		}
		n, err := s.port.Write(eff.Data)
		if err == nil && n < len(eff.Data) {
			err = io.ErrShortWrite
		}
		if err != nil {
			return TransportFailed{Epoch: s.engine.Epoch(), Err: err}
		}
	case StartTimer:
		s.startTimer(eff)
	case StopTimer:
		s.stopTimer(eff.Timer)
	case StopAllTimers:
		s.stopTimers()
	case StartReader:
		go s.readTask(s.port, eff.Epoch)
	case ClosePort:
		if s.port != nil {
			if err := s.port.Close(); err != nil {
				s.log.Debug("port close", "err", err)
			}
			s.port = nil
		}
	case Update:
		if sc, ok := eff.(StatusChanged); ok && s.cfg.StatusTransition != nil {
			s.cfg.StatusTransition(s, sc.Prev, sc.Status)
		}
		if s.cfg.OnUpdate != nil {
			s.cfg.OnUpdate(s, eff)
		}
	}
	return nil
}

func (s *Session) readTask(port io.Reader, epoch uint64) {
	buf := make([]byte, s.cfg.ReadBufferSize)
	for {
		n, err := port.Read(buf)
		if n > 0 {
			if s.post(DataReceived{Epoch: epoch, Data: bytes.Clone(buf[:n])}) != nil {
				return
			}
		}
		if err != nil {
			_ = s.post(TransportFailed{Epoch: epoch, Err: err, Fatal: true})
			return
		}
	}
}

func (s *Session) startTimer(t StartTimer) {
	s.stopTimer(t.Timer)
	fired := TimerFired{Timer: t.Timer, Gen: t.Gen}
	if !t.Periodic {
		tm := time.AfterFunc(t.Interval, func() {
			_ = s.post(fired)
		})
		s.timers[t.Timer] = func() { tm.Stop() }
		return
	}
	ticker := time.NewTicker(t.Interval)
	stop := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if s.post(fired) != nil {
					return
				}
			}
		}
	}()
	s.timers[t.Timer] = func() { close(stop) }
}

func (s *Session) stopTimer(t TimerKind) {
	if stop := s.timers[t]; stop != nil {
		stop()
		s.timers[t] = nil
	}
}

func (s *Session) stopTimers() {
	for i := range s.timers {
		s.stopTimer(TimerKind(i))
	}
}
