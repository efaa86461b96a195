package pwrmeter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Keyword replies, matched case-insensitively.
const (
	ReplyOK     = "OK"
	ReplyNoTerm = "NO TERM"
)

// VendorToken prefixes a valid identity reply.
const VendorToken = "ANRITSU"

// Identity is the sensor identification from IDN?.
type Identity struct {
	ID       string
	Firmware string
}

func (i Identity) String() string {
	if i.ID == "" && i.Firmware == "" {
		return "ID: -- | FW: --"
	}
	return fmt.Sprintf("ID: %s | FW: %s", i.ID, i.Firmware)
}

// ParseIdentity extracts the identity from an IDN? reply of the form
// ANRITSU,<model>,<id>,<rev>,<firmware>[,...].
func ParseIdentity(reply string) (Identity, bool) {
	if !strings.HasPrefix(reply, VendorToken) {
		return Identity{}, false
	}
	fields := strings.Split(reply, ",")
	if len(fields) < 5 {
		return Identity{}, false
	}
	return Identity{ID: fields[2], Firmware: fields[4]}, true
}

// Temperature is the temperature display state.
type Temperature struct {
	Celsius float64
	// Valid is set once a reading was parsed
	Valid bool
	// Err is set when the last reply could not be parsed
	Err bool
}

func (t Temperature) String() string {
	switch {
	case t.Err:
		return "Temp: Error"
	case t.Valid:
		return fmt.Sprintf("Temp: %.1f °C", t.Celsius)
	default:
		return "Temp: -- °C"
	}
}

// ParseDecimal parses a plain decimal number. The decimal separator is always
// '.', and neither thousands separators, hexadecimal nor non-finite values are
// accepted.
func ParseDecimal(s string) (float64, bool) {
	if s == "" || strings.ContainsAny(s, ",_xXpP") {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func isReply(reply, keyword string) bool {
	return strings.EqualFold(reply, keyword)
}

type disposition int

const (
	accept disposition = iota
	retry
)

func (d disposition) String() string {
	if d == retry {
		return "retry"
	}
	return "accept"
}

// handleLine matches one framed line against the in-flight command.
func (e *Engine) handleLine(line string) {
	if line == "" {
		e.metrics.EmptyLines++
		e.logf("RSP: [empty message]")
		return
	}
	e.logf("RSP: %s", line)
	if e.inFlight == nil {
		e.metrics.Unsolicited++
		e.log.Debug("unsolicited line", "reply", line)
		return
	}
	cmd := *e.inFlight
	e.metrics.Replies++
	e.metrics.LastReplyTime = time.Now()

	d := e.route(cmd, line)
	e.log.Debug("reply", "cmd", cmd.String(), "reply", line, "disposition", d.String())
	if d == retry {
		e.metrics.Retries++
		e.enqueue(cmd)
	}
	e.inFlight = nil
	e.tryDispatch()
}

// route applies the side effects of reply to cmd and tells whether cmd must be resent.
func (e *Engine) route(cmd Command, reply string) disposition {
	switch cmd.Kind {
	case KindIdentify:
		if isReply(reply, ReplyNoTerm) {
			return retry
		}
		id, ok := ParseIdentity(reply)
		if !ok {
			return accept
		}
		e.identity = id
		e.setStatus(StatusIdentified)
		if !e.tempStarted {
			e.tempStarted = true
			e.startTimer(TimerTemperature, e.cfg.TemperatureInterval, true)
			e.enqueue(TemperatureCommand())
		}
	case KindTemperature:
		if isReply(reply, ReplyNoTerm) {
			return retry
		}
		if v, ok := ParseDecimal(reply); ok {
			e.temp = Temperature{Celsius: v, Valid: true}
		} else {
			e.temp = Temperature{Celsius: e.temp.Celsius, Valid: e.temp.Valid, Err: true}
		}
		e.emit(TemperatureChanged{Temperature: e.temp})
	case KindPower:
		if v, ok := ParseDecimal(reply); ok {
			e.power.SetMeasured(v)
			e.updatePower()
		}
	case KindSetFrequency:
		if e.zero != ZeroIdle {
			e.logf("Frequency change cancelled by zero calibration")
			return accept
		}
		if !isReply(reply, ReplyOK) {
			e.logf("Failed to set frequency, retrying...")
			return retry
		}
		e.logf("Frequency set successfully.")
		if e.measuring {
			e.startPowerPoll()
		}
	case KindZero:
		if e.zero != ZeroAwaitingAck {
			e.log.Debug("stale zero reply", "reply", reply)
			return accept
		}
		if isReply(reply, ReplyOK) {
			e.emit(Notice{Level: NoticeInfo, Text: "Zero calibration completed successfully!"})
			e.finishZero()
			return accept
		}
		if e.cfg.ZeroPolicy == ZeroRetry {
			e.logf("Zero calibration not acknowledged, retrying...")
			return retry
		}
		e.logf("Zero calibration not acknowledged, waiting...")
	}
	return accept
}
