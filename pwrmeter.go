// Package pwrmeter drives an Anritsu RF power sensor over a serial line using
// its line-delimited ASCII protocol (IDN?, TEMP?, POW?, CFFREQ, ZERO).
//
// The protocol core is the Engine, a single-threaded reactor: every input
// (received bytes, timer expiry, operator action) is an Event, and handling an
// Event returns the Effects it produced (bytes to write, timers to start or
// stop, presentation updates). The Engine keeps at most one command in flight,
// retries commands answered with "NO TERM", polls power and temperature, and
// sequences the delayed zero calibration.
//
// The Session wraps an Engine with a real transport, real timers and an event
// loop goroutine, so that callers only deal with plain method calls:
//
//	s, err := pwrmeter.NewSession(ctx, &pwrmeter.Config{
//		Open:     openSerial,
//		OnUpdate: printUpdate,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer s.Close()
//	if err := s.Connect(ctx, "/dev/ttyUSB0"); err != nil {
//		log.Fatal(err)
//	}
//	s.StartMeasuring()
package pwrmeter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

var (
	// ErrConfigRequired is returned when a required configuration parameter is missing
	ErrConfigRequired = errors.New("config required")
	// ErrNotConnected is reported when an action needs an open port
	ErrNotConnected = errors.New("port not open")
	// ErrAlreadyConnected is returned when connecting while a port is open
	ErrAlreadyConnected = errors.New("port already open")
	// ErrControlsLocked is reported for operator actions issued during zero calibration
	ErrControlsLocked = errors.New("controls locked during zero calibration")
	// ErrSessionClosed is returned by Session methods after Close
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidValue is reported for non-finite or out of range operator input
	ErrInvalidValue = errors.New("invalid value")
	// ErrInvalidRange is reported when a frequency range does not satisfy start < end
	ErrInvalidRange = errors.New("start frequency must be less than end frequency")
	// ErrNoTable is reported when an attenuation range is applied without a loaded table
	ErrNoTable = errors.New("attenuation table not loaded")
	// ErrNoSamples is reported when no table sample lies inside the requested range
	ErrNoSamples = errors.New("no data points found in the specified frequency range")
	// ErrUnknownPreset is reported when a preset name is not known
	ErrUnknownPreset = errors.New("unknown preset")
	// ErrZeroTimeout is reported when the ZERO acknowledgement did not arrive in time
	ErrZeroTimeout = errors.New("zero calibration timed out")
)

// DeviceStatus is the connection state of the sensor.
type DeviceStatus int

const (
	// StatusDisconnected means no port is open
	StatusDisconnected DeviceStatus = iota
	// StatusConnecting means the port is open and IDN? has not been answered yet
	StatusConnecting
	// StatusIdentified means the sensor returned a valid identity
	StatusIdentified
)

// String returns a human-readable representation of the status.
func (s DeviceStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusIdentified:
		return "Identified"
	default:
		return "Unknown"
	}
}

// ZeroState is the state of a zero calibration session.
type ZeroState int

const (
	// ZeroIdle means no calibration is running
	ZeroIdle ZeroState = iota
	// ZeroPendingDelay means the settle delay before ZERO is running
	ZeroPendingDelay
	// ZeroAwaitingAck means ZERO was queued and its OK has not arrived yet
	ZeroAwaitingAck
)

func (z ZeroState) String() string {
	switch z {
	case ZeroIdle:
		return "Idle"
	case ZeroPendingDelay:
		return "PendingDelay"
	case ZeroAwaitingAck:
		return "AwaitingAck"
	default:
		return "Unknown"
	}
}

// ZeroPolicy selects what happens when ZERO is answered with anything but OK.
type ZeroPolicy int

const (
	// ZeroWait keeps waiting for a later OK without resending ZERO
	ZeroWait ZeroPolicy = iota
	// ZeroRetry resends ZERO after every non-OK reply
	ZeroRetry
)

func (p ZeroPolicy) String() string {
	switch p {
	case ZeroWait:
		return "wait"
	case ZeroRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// ParseZeroPolicy converts "wait" or "retry" to a ZeroPolicy.
func ParseZeroPolicy(s string) (ZeroPolicy, error) {
	switch s {
	case "", "wait":
		return ZeroWait, nil
	case "retry":
		return ZeroRetry, nil
	}
	return ZeroWait, ErrInvalidValue
}

// Default timings and limits.
const (
	DefaultPowerPollInterval   = 250 * time.Millisecond
	DefaultTemperatureInterval = 10 * time.Second
	DefaultZeroDelay           = 1000 * time.Millisecond
	DefaultFrequencySettle     = 1000 * time.Millisecond
	DefaultMaxPendingPolls     = 5
	DefaultReadBufferSize      = 256
)

// OpenerType opens the named port. The returned stream is owned by the Session
// and closed on disconnect.
type OpenerType func(ctx context.Context, name string) (io.ReadWriteCloser, error)

// UpdateHookType receives every presentation update produced by the engine.
// It runs on the session goroutine and must not block.
type UpdateHookType func(s *Session, u Update)

// StatusTransitionType is called whenever the device status changes.
// It runs on the session goroutine and must not block.
type StatusTransitionType func(s *Session, prevStatus DeviceStatus, newStatus DeviceStatus)

// Config contains the configuration parameters of an Engine or Session.
// Zero values select the defaults.
type Config struct {
	// Logger receives protocol traffic at debug level (default: slog.Default())
	Logger *slog.Logger
	// PowerPollInterval is the POW? period while measuring (default: 250ms)
	PowerPollInterval time.Duration
	// TemperatureInterval is the TEMP? period once identified (default: 10s)
	TemperatureInterval time.Duration
	// ZeroDelay is the settle time between a zero request and ZERO (default: 1s)
	ZeroDelay time.Duration
	// FrequencySettle is the pause between a frequency request and CFFREQ (default: 1s)
	FrequencySettle time.Duration
	// ZeroTimeout aborts a calibration whose OK did not arrive in time (default: 0, wait forever)
	ZeroTimeout time.Duration
	// ZeroPolicy controls the handling of non-OK ZERO replies (default: ZeroWait)
	ZeroPolicy ZeroPolicy
	// MaxPendingPolls is the queue length at which power polls are dropped (default: 5)
	MaxPendingPolls int
	// Attenuation is the optional S21 table used by range actions
	Attenuation AttenuationSource
	// Presets is the optional named range store used by preset actions
	Presets PresetSource

	// Open opens a port by name (required by NewSession)
	Open OpenerType
	// OnUpdate is an optional presentation hook
	OnUpdate UpdateHookType
	// StatusTransition is an optional status change hook
	StatusTransition StatusTransitionType
	// ReadBufferSize is the size of a single transport read (default: 256)
	ReadBufferSize int
}

func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.PowerPollInterval <= 0 {
		c.PowerPollInterval = DefaultPowerPollInterval
	}
	if c.TemperatureInterval <= 0 {
		c.TemperatureInterval = DefaultTemperatureInterval
	}
	if c.ZeroDelay <= 0 {
		c.ZeroDelay = DefaultZeroDelay
	}
	if c.FrequencySettle <= 0 {
		c.FrequencySettle = DefaultFrequencySettle
	}
	if c.ZeroTimeout < 0 {
		c.ZeroTimeout = 0
	}
	if c.MaxPendingPolls <= 0 {
		c.MaxPendingPolls = DefaultMaxPendingPolls
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	return c
}

// Metrics contains runtime statistics of an engine.
// Counters are cumulative since the engine was created.
type Metrics struct {
	// Status is the current device status
	Status DeviceStatus
	// CommandsSent is the number of commands written, retries included
	CommandsSent int
	// Retries is the number of commands re-queued after NO TERM or a failed acknowledgement
	Retries int
	// Replies is the number of non-empty lines matched against an in-flight command
	Replies int
	// EmptyLines is the number of empty lines received
	EmptyLines int
	// Unsolicited is the number of lines received with no command in flight
	Unsolicited int
	// PollsDropped is the number of power polls refused by back-pressure
	PollsDropped int
	// TxBytes is the number of command bytes handed to the transport
	TxBytes int
	// RxBytes is the number of bytes received from the transport
	RxBytes int
	// TransportErrors is the number of reported transport faults
	TransportErrors int
	// QueueLen is the number of commands waiting to be sent
	QueueLen int
	// InFlight reports whether a command is awaiting its reply
	InFlight bool
	// LastCommandTime is the timestamp of the last command written
	LastCommandTime time.Time
	// LastReplyTime is the timestamp of the last reply line received
	LastReplyTime time.Time
}
