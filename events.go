package pwrmeter

import (
	"fmt"
	"time"
)

// Event is an input to the engine. The set of events is closed.
type Event interface {
	isEvent()
}

// DataReceived carries raw bytes read from the transport of connection Epoch.
type DataReceived struct {
	Epoch uint64
	Data  []byte
}

// LineReceived carries one framed line of connection Epoch.
type LineReceived struct {
	Epoch uint64
	Line  string
}

// TimerFired reports the expiry of the timer started with generation Gen.
type TimerFired struct {
	Timer TimerKind
	Gen   uint64
}

// TransportFailed reports an I/O fault on connection Epoch. A fatal fault
// tears the connection down; a non-fatal one only releases the in-flight slot.
type TransportFailed struct {
	Epoch uint64
	Err   error
	Fatal bool
}

// ActionKind identifies an operator action.
type ActionKind int

const (
	// ActionConnect binds the engine to a freshly opened port named Name
	ActionConnect ActionKind = iota
	// ActionDisconnect tears the connection down
	ActionDisconnect
	// ActionToggleMeasuring flips the measuring flag
	ActionToggleMeasuring
	// ActionSetMeasuring sets the measuring flag to On
	ActionSetMeasuring
	// ActionSetFrequency tunes the sensor to MHz
	ActionSetFrequency
	// ActionSetAttenuation sets the attenuation offset to DB
	ActionSetAttenuation
	// ActionZero starts a zero calibration
	ActionZero
	// ActionApplyRange derives the attenuation from the table over [MHz, EndMHz]
	ActionApplyRange
	// ActionSelectPreset applies the range of the preset called Name
	ActionSelectPreset
)

func (a ActionKind) String() string {
	switch a {
	case ActionConnect:
		return "Connect"
	case ActionDisconnect:
		return "Disconnect"
	case ActionToggleMeasuring:
		return "ToggleMeasuring"
	case ActionSetMeasuring:
		return "SetMeasuring"
	case ActionSetFrequency:
		return "SetFrequency"
	case ActionSetAttenuation:
		return "SetAttenuation"
	case ActionZero:
		return "Zero"
	case ActionApplyRange:
		return "ApplyRange"
	case ActionSelectPreset:
		return "SelectPreset"
	default:
		return "Unknown"
	}
}

// UserAction is an operator request. Only the fields relevant to Kind are used.
type UserAction struct {
	Kind   ActionKind
	On     bool
	MHz    float64
	EndMHz float64
	DB     float64
	Name   string
}

func (DataReceived) isEvent()    {}
func (LineReceived) isEvent()    {}
func (TimerFired) isEvent()      {}
func (TransportFailed) isEvent() {}
func (UserAction) isEvent()      {}

// TimerKind names one of the engine timers.
type TimerKind int

const (
	// TimerPowerPoll queues POW? periodically while measuring
	TimerPowerPoll TimerKind = iota
	// TimerTemperature queues TEMP? periodically once identified
	TimerTemperature
	// TimerZeroDelay is the one-shot settle delay before ZERO
	TimerZeroDelay
	// TimerFrequencySettle is the one-shot pause before CFFREQ
	TimerFrequencySettle
	// TimerZeroTimeout is the optional one-shot ZERO acknowledgement deadline
	TimerZeroTimeout

	numTimers
)

func (t TimerKind) String() string {
	switch t {
	case TimerPowerPoll:
		return "PowerPoll"
	case TimerTemperature:
		return "Temperature"
	case TimerZeroDelay:
		return "ZeroDelay"
	case TimerFrequencySettle:
		return "FrequencySettle"
	case TimerZeroTimeout:
		return "ZeroTimeout"
	default:
		return "Unknown"
	}
}

// Effect is an output of the engine. The session executes I/O effects and
// forwards Updates to the presentation hooks.
type Effect interface {
	isEffect()
}

// Write asks for Cmd's bytes to be transmitted.
type Write struct {
	Cmd  Command
	Data []byte
}

// StartTimer (re)arms a timer. A running timer of the same kind is replaced.
type StartTimer struct {
	Timer    TimerKind
	Gen      uint64
	Interval time.Duration
	Periodic bool
}

// StopTimer cancels a timer.
type StopTimer struct {
	Timer TimerKind
}

// StopAllTimers cancels every timer.
type StopAllTimers struct{}

// StartReader asks for transport reads tagged with Epoch to begin.
type StartReader struct {
	Epoch uint64
}

// ClosePort asks for the transport to be closed.
type ClosePort struct{}

func (Write) isEffect()         {}
func (StartTimer) isEffect()    {}
func (StopTimer) isEffect()     {}
func (StopAllTimers) isEffect() {}
func (StartReader) isEffect()   {}
func (ClosePort) isEffect()     {}

// Update is a presentation change. Updates are also Effects.
type Update interface {
	Effect
	isUpdate()
}

// StatusChanged reports a device status transition.
type StatusChanged struct {
	Prev     DeviceStatus
	Status   DeviceStatus
	Port     string
	Identity Identity
}

// TemperatureChanged reports a new temperature display state.
type TemperatureChanged struct {
	Temperature Temperature
}

// PowerChanged reports a recomputed power display.
type PowerChanged struct {
	Reading PowerReading
}

// MeasuringChanged reports a change of the measuring flag.
type MeasuringChanged struct {
	On bool
}

// ControlsChanged reports operator controls being locked or released.
type ControlsChanged struct {
	Enabled bool
}

// AttenuationChanged reports a new attenuation offset.
type AttenuationChanged struct {
	DB float64
}

// FrequencyChanged reports a requested sensor frequency.
type FrequencyChanged struct {
	MHz float64
}

// ZeroChanged reports a zero calibration state transition.
type ZeroChanged struct {
	State ZeroState
}

// CommandSent reports a command handed to the transport.
type CommandSent struct {
	Cmd Command
}

// Logged is a line for the operator log.
type Logged struct {
	Text string
}

// NoticeLevel grades a Notice.
type NoticeLevel int

const (
	// NoticeInfo reports a completed operation
	NoticeInfo NoticeLevel = iota
	// NoticeWarn reports a rejected action or unusable input
	NoticeWarn
	// NoticeError reports a transport or calibration failure
	NoticeError
)

func (l NoticeLevel) String() string {
	switch l {
	case NoticeInfo:
		return "info"
	case NoticeWarn:
		return "warning"
	case NoticeError:
		return "error"
	default:
		return "unknown"
	}
}

// Notice is a message the operator should see, such as a rejected action.
type Notice struct {
	Level NoticeLevel
	Text  string
	Err   error
}

func (n Notice) String() string {
	if n.Err != nil && n.Text == "" {
		return fmt.Sprintf("%s: %v", n.Level, n.Err)
	}
	return fmt.Sprintf("%s: %s", n.Level, n.Text)
}

func (StatusChanged) isEffect()      {}
func (TemperatureChanged) isEffect() {}
func (PowerChanged) isEffect()       {}
func (MeasuringChanged) isEffect()   {}
func (ControlsChanged) isEffect()    {}
func (AttenuationChanged) isEffect() {}
func (FrequencyChanged) isEffect()   {}
func (ZeroChanged) isEffect()        {}
func (CommandSent) isEffect()        {}
func (Logged) isEffect()             {}
func (Notice) isEffect()             {}

func (StatusChanged) isUpdate()      {}
func (TemperatureChanged) isUpdate() {}
func (PowerChanged) isUpdate()       {}
func (MeasuringChanged) isUpdate()   {}
func (ControlsChanged) isUpdate()    {}
func (AttenuationChanged) isUpdate() {}
func (FrequencyChanged) isUpdate()   {}
func (ZeroChanged) isUpdate()        {}
func (CommandSent) isUpdate()        {}
func (Logged) isUpdate()             {}
func (Notice) isUpdate()             {}
