package pwrmeter

import (
	"fmt"
	"log/slog"
	"math"
	"time"
)

type timerState struct {
	active bool
	gen    uint64
}

// Engine is the protocol reactor. It owns the whole session state: queue,
// in-flight slot, line buffer, timers, power model and zero calibration.
//
// Engine is not safe for concurrent use; Handle must be called from a single
// goroutine. Session does that.
type Engine struct {
	cfg Config
	log *slog.Logger

	epoch    uint64
	port     string
	status   DeviceStatus
	identity Identity
	temp     Temperature
	// tempStarted guards the once-per-connection start of temperature polling
	tempStarted bool

	framer   LineFramer
	queue    commandQueue
	inFlight *Command

	power     PowerModel
	measuring bool
	controls  bool
	freqMHz   float64
	// pendingFreq is the CFFREQ waiting for the frequency settle timer
	pendingFreq *Command

	zero         ZeroState
	wasMeasuring bool

	timers  [numTimers]timerState
	timerID uint64

	metrics Metrics
	effects []Effect
}

// NewEngine creates a disconnected engine.
func NewEngine(cfg Config) *Engine {
	cfg = cfg.withDefaults()
	return &Engine{
		cfg:      cfg,
		log:      cfg.Logger,
		controls: true,
	}
}

// Handle processes one event to completion and returns the effects it produced,
// in order. Events of a previous connection are ignored.
func (e *Engine) Handle(ev Event) []Effect {
	e.effects = nil
	switch ev := ev.(type) {
	case DataReceived:
		if !e.current(ev.Epoch) {
			return nil
		}
		e.metrics.RxBytes += len(ev.Data)
		for line := range e.framer.Feed(ev.Data) {
			e.handleLine(line)
		}
	case LineReceived:
		if !e.current(ev.Epoch) {
			return nil
		}
		e.handleLine(ev.Line)
	case TimerFired:
		e.handleTimer(ev)
	case TransportFailed:
		if !e.current(ev.Epoch) {
			return nil
		}
		e.handleTransportFault(ev)
	case UserAction:
		e.handleAction(ev)
	}
	effects := e.effects
	e.effects = nil
	return effects
}

func (e *Engine) current(epoch uint64) bool {
	return e.status != StatusDisconnected && epoch == e.epoch
}

func (e *Engine) emit(eff Effect) {
	e.effects = append(e.effects, eff)
}

func (e *Engine) logf(format string, args ...any) {
	e.emit(Logged{Text: fmt.Sprintf(format, args...)})
}

func (e *Engine) notify(level NoticeLevel, err error) {
	e.emit(Notice{Level: level, Text: err.Error(), Err: err})
}

// Epoch returns the identifier of the current connection. It changes on every
// connect and disconnect.
func (e *Engine) Epoch() uint64 {
	return e.epoch
}

// Status returns the device status.
func (e *Engine) Status() DeviceStatus {
	return e.status
}

// Busy reports whether a command is awaiting its reply.
func (e *Engine) Busy() bool {
	return e.inFlight != nil
}

// InFlight returns the command awaiting its reply.
func (e *Engine) InFlight() (Command, bool) {
	if e.inFlight == nil {
		return Command{}, false
	}
	return *e.inFlight, true
}

// QueueLen returns the number of commands waiting to be sent.
func (e *Engine) QueueLen() int {
	return e.queue.len()
}

// Measuring reports whether power polling was requested by the operator.
func (e *Engine) Measuring() bool {
	return e.measuring
}

// ZeroState returns the zero calibration state.
func (e *Engine) ZeroState() ZeroState {
	return e.zero
}

// TimerActive reports whether the engine considers timer t armed.
func (e *Engine) TimerActive(t TimerKind) bool {
	return e.timers[t].active
}

// Metrics returns a copy of the engine statistics.
func (e *Engine) Metrics() Metrics {
	m := e.metrics
	m.Status = e.status
	m.QueueLen = e.queue.len()
	m.InFlight = e.inFlight != nil
	return m
}

// Snapshot is a consistent copy of the state shown to the operator.
type Snapshot struct {
	Status       DeviceStatus
	Port         string
	Identity     Identity
	Temperature  Temperature
	Power        PowerReading
	Attenuation  float64
	FrequencyMHz float64
	Measuring    bool
	Controls     bool
	Zero         ZeroState
	Metrics      Metrics
}

// Snapshot returns the current presentation state.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Status:       e.status,
		Port:         e.port,
		Identity:     e.identity,
		Temperature:  e.temp,
		Power:        e.power.Reading(e.measuring),
		Attenuation:  e.power.Attenuation(),
		FrequencyMHz: e.freqMHz,
		Measuring:    e.measuring,
		Controls:     e.controls,
		Zero:         e.zero,
		Metrics:      e.Metrics(),
	}
}

func (e *Engine) enqueue(c Command) {
	e.queue.push(c)
}

// enqueuePoll queues a power poll unless the queue is backed up.
func (e *Engine) enqueuePoll(c Command) bool {
	if e.queue.len() >= e.cfg.MaxPendingPolls {
		e.metrics.PollsDropped++
		e.log.Debug("power poll dropped", "queued", e.queue.len())
		return false
	}
	e.queue.push(c)
	return true
}

// tryDispatch sends the head of the queue when nothing is in flight.
func (e *Engine) tryDispatch() {
	if e.inFlight != nil || e.status == StatusDisconnected {
		return
	}
	c, ok := e.queue.pop()
	if !ok {
		return
	}
	e.inFlight = &c
	data := c.Bytes()
	e.metrics.CommandsSent++
	e.metrics.TxBytes += len(data)
	e.metrics.LastCommandTime = time.Now()
	e.emit(Write{Cmd: c, Data: data})
	e.emit(CommandSent{Cmd: c})
	e.logf("CMD: %s", c)
	e.log.Debug("command sent", "cmd", c.String(), "epoch", e.epoch)
}

func (e *Engine) startTimer(t TimerKind, d time.Duration, periodic bool) {
	e.timerID++
	e.timers[t] = timerState{active: true, gen: e.timerID}
	e.emit(StartTimer{Timer: t, Gen: e.timerID, Interval: d, Periodic: periodic})
}

func (e *Engine) stopTimer(t TimerKind) {
	if !e.timers[t].active {
		return
	}
	e.timers[t].active = false
	e.emit(StopTimer{Timer: t})
}

func (e *Engine) stopAllTimers() {
	for i := range e.timers {
		e.timers[i].active = false
	}
	e.emit(StopAllTimers{})
}

func (e *Engine) startPowerPoll() {
	e.startTimer(TimerPowerPoll, e.cfg.PowerPollInterval, true)
}

func (e *Engine) handleTimer(ev TimerFired) {
	if ev.Timer < 0 || ev.Timer >= numTimers {
		return
	}
	st := e.timers[ev.Timer]
	if !st.active || st.gen != ev.Gen {
		return
	}
	switch ev.Timer {
	case TimerPowerPoll:
		if !e.measuring || e.zero != ZeroIdle {
			return
		}
		e.enqueuePoll(PowerCommand())
		e.tryDispatch()
	case TimerTemperature:
		e.enqueue(TemperatureCommand())
		e.tryDispatch()
	case TimerZeroDelay:
		e.timers[ev.Timer].active = false
		if e.zero != ZeroPendingDelay {
			return
		}
		e.setZero(ZeroAwaitingAck)
		e.enqueue(ZeroCommand())
		if e.cfg.ZeroTimeout > 0 {
			e.startTimer(TimerZeroTimeout, e.cfg.ZeroTimeout, false)
		}
		e.tryDispatch()
	case TimerFrequencySettle:
		e.timers[ev.Timer].active = false
		if e.pendingFreq == nil {
			return
		}
		e.enqueue(*e.pendingFreq)
		e.pendingFreq = nil
		e.tryDispatch()
	case TimerZeroTimeout:
		e.timers[ev.Timer].active = false
		if e.zero != ZeroAwaitingAck {
			return
		}
		e.queue.removeKind(KindZero)
		e.notify(NoticeError, ErrZeroTimeout)
		e.finishZero()
	}
}

func (e *Engine) handleTransportFault(ev TransportFailed) {
	e.metrics.TransportErrors++
	e.log.Warn("transport fault", "err", ev.Err, "fatal", ev.Fatal, "epoch", ev.Epoch)
	e.emit(Notice{Level: NoticeError, Text: fmt.Sprintf("serial error: %v", ev.Err), Err: ev.Err})
	if ev.Fatal {
		e.teardown()
		return
	}
	e.inFlight = nil
	e.tryDispatch()
}

func (e *Engine) handleAction(a UserAction) {
	switch a.Kind {
	case ActionConnect:
		e.connect(a.Name)
		return
	case ActionDisconnect:
		e.teardown()
		return
	case ActionSetAttenuation:
		if e.locked() {
			return
		}
		e.setAttenuation(a.DB)
		return
	case ActionApplyRange:
		if e.locked() {
			return
		}
		e.applyRange(a.MHz, a.EndMHz)
		return
	case ActionSelectPreset:
		if e.locked() {
			return
		}
		e.selectPreset(a.Name)
		return
	}

	// The remaining actions talk to the sensor.
	if e.status == StatusDisconnected {
		e.notify(NoticeWarn, ErrNotConnected)
		return
	}
	if e.locked() {
		return
	}
	switch a.Kind {
	case ActionToggleMeasuring:
		e.setMeasuring(!e.measuring)
	case ActionSetMeasuring:
		e.setMeasuring(a.On)
	case ActionSetFrequency:
		e.setFrequency(a.MHz)
	case ActionZero:
		e.startZero()
	}
}

// locked reports, and notifies, that operator controls are disabled.
func (e *Engine) locked() bool {
	if e.controls {
		return false
	}
	e.notify(NoticeWarn, ErrControlsLocked)
	return true
}

func (e *Engine) setStatus(s DeviceStatus) {
	prev := e.status
	if prev == s {
		return
	}
	e.status = s
	e.log.Info("device status", "prev", prev.String(), "status", s.String(), "port", e.port)
	e.emit(StatusChanged{Prev: prev, Status: s, Port: e.port, Identity: e.identity})
}

func (e *Engine) connect(port string) {
	if e.status != StatusDisconnected {
		e.notify(NoticeWarn, ErrAlreadyConnected)
		return
	}
	e.epoch++
	e.port = port
	e.resetSession()
	e.setStatus(StatusConnecting)
	e.emit(StartReader{Epoch: e.epoch})
	e.setControls(true)
	e.enqueue(IdentifyCommand())
	e.tryDispatch()
}

// teardown returns to the disconnected state. It is idempotent.
func (e *Engine) teardown() {
	if e.status == StatusDisconnected {
		return
	}
	e.stopAllTimers()
	e.emit(ClosePort{})
	e.epoch++
	e.setZero(ZeroIdle)
	e.resetSession()
	e.setControls(true)
	if e.measuring {
		e.measuring = false
		e.emit(MeasuringChanged{On: false})
	}
	e.setStatus(StatusDisconnected)
	e.port = ""
	e.emit(TemperatureChanged{Temperature: e.temp})
	e.updatePower()
}

func (e *Engine) resetSession() {
	e.queue.clear()
	e.inFlight = nil
	e.framer.Reset()
	e.power.Reset()
	e.pendingFreq = nil
	e.identity = Identity{}
	e.temp = Temperature{}
	e.tempStarted = false
	e.zero = ZeroIdle
	e.wasMeasuring = false
	for i := range e.timers {
		e.timers[i].active = false
	}
}

func (e *Engine) setControls(enabled bool) {
	if e.controls == enabled {
		return
	}
	e.controls = enabled
	e.emit(ControlsChanged{Enabled: enabled})
}

func (e *Engine) setMeasuring(on bool) {
	if e.measuring == on {
		return
	}
	e.measuring = on
	if on {
		// A pending CFFREQ restarts polling once acknowledged.
		if !e.frequencyPending() {
			e.startPowerPoll()
		}
	} else {
		e.stopTimer(TimerPowerPoll)
	}
	e.emit(MeasuringChanged{On: on})
	e.updatePower()
}

// frequencyPending reports whether a CFFREQ is settling, queued or unanswered.
func (e *Engine) frequencyPending() bool {
	if e.pendingFreq != nil || e.queue.has(KindSetFrequency) {
		return true
	}
	return e.inFlight != nil && e.inFlight.Kind == KindSetFrequency
}

func (e *Engine) updatePower() {
	e.emit(PowerChanged{Reading: e.power.Reading(e.measuring)})
}

func (e *Engine) setAttenuation(db float64) {
	if math.IsNaN(db) || math.IsInf(db, 0) {
		e.notify(NoticeWarn, fmt.Errorf("attenuation: %w", ErrInvalidValue))
		return
	}
	e.power.SetAttenuation(db)
	e.emit(AttenuationChanged{DB: db})
	e.updatePower()
}

func (e *Engine) setFrequency(mhz float64) {
	if math.IsNaN(mhz) || math.IsInf(mhz, 0) || mhz <= 0 {
		e.notify(NoticeWarn, fmt.Errorf("frequency: %w", ErrInvalidValue))
		return
	}
	e.stopTimer(TimerPowerPoll)
	e.logf("Pausing measurements to set frequency...")
	c := SetFrequencyCommand(mhz)
	e.pendingFreq = &c
	e.freqMHz = mhz
	e.emit(FrequencyChanged{MHz: mhz})
	e.startTimer(TimerFrequencySettle, e.cfg.FrequencySettle, false)
}

func (e *Engine) applyRange(startMHz, endMHz float64) {
	if e.cfg.Attenuation == nil || e.cfg.Attenuation.Len() == 0 {
		e.notify(NoticeWarn, ErrNoTable)
		return
	}
	if math.IsNaN(startMHz) || math.IsNaN(endMHz) || startMHz >= endMHz {
		e.notify(NoticeWarn, ErrInvalidRange)
		return
	}
	att, ok := AttenuationForRange(e.cfg.Attenuation, startMHz, endMHz)
	if !ok {
		e.notify(NoticeWarn, ErrNoSamples)
		return
	}
	e.setAttenuation(att)
	e.logf("Average attenuation calculated: %.3f dB (freq range: %g-%g MHz)", att, startMHz, endMHz)
	if e.status == StatusDisconnected {
		return
	}
	mid := (startMHz + endMHz) / 2
	e.logf("Setting frequency to average: %.1f MHz", mid)
	e.setFrequency(mid)
}

func (e *Engine) selectPreset(name string) {
	if e.cfg.Presets == nil {
		e.notify(NoticeWarn, fmt.Errorf("%w: %q", ErrUnknownPreset, name))
		return
	}
	start, end, ok := e.cfg.Presets.Lookup(name)
	if !ok {
		e.notify(NoticeWarn, fmt.Errorf("%w: %q", ErrUnknownPreset, name))
		return
	}
	e.logf("Selected preset: %s (%g-%g MHz)", name, start, end)
	e.applyRange(start, end)
}

func (e *Engine) setZero(z ZeroState) {
	if e.zero == z {
		return
	}
	e.zero = z
	e.emit(ZeroChanged{State: z})
}

// startZero stops polling, locks the controls and arms the settle delay.
// ZERO itself is queued when the delay expires.
func (e *Engine) startZero() {
	e.wasMeasuring = e.measuring
	if e.measuring {
		e.measuring = false
		e.stopTimer(TimerPowerPoll)
		e.emit(MeasuringChanged{On: false})
	}
	if e.pendingFreq != nil {
		e.pendingFreq = nil
		e.stopTimer(TimerFrequencySettle)
		e.logf("Pending frequency change cancelled by zero calibration")
	}
	e.queue.clear()
	e.setControls(false)
	e.setZero(ZeroPendingDelay)
	e.logf("Zero calibration requested")
	e.startTimer(TimerZeroDelay, e.cfg.ZeroDelay, false)
}

// finishZero ends the calibration session, releasing the controls and
// resuming measurement if it was running when the session began.
func (e *Engine) finishZero() {
	e.stopTimer(TimerZeroTimeout)
	e.setZero(ZeroIdle)
	e.setControls(true)
	if e.wasMeasuring {
		e.wasMeasuring = false
		e.setMeasuring(true)
	}
}
