package pwrmeter

import (
	"slices"
	"strconv"
	"strings"
)

// Kind identifies a sensor command.
type Kind int

const (
	// KindIdentify is IDN?
	KindIdentify Kind = iota
	// KindTemperature is TEMP?
	KindTemperature
	// KindPower is POW?
	KindPower
	// KindSetFrequency is CFFREQ <GHz>
	KindSetFrequency
	// KindZero is ZERO
	KindZero
)

func (k Kind) String() string {
	switch k {
	case KindIdentify:
		return "Identify"
	case KindTemperature:
		return "Temperature"
	case KindPower:
		return "Power"
	case KindSetFrequency:
		return "SetFrequency"
	case KindZero:
		return "Zero"
	default:
		return "Unknown"
	}
}

// Command is a single request to the sensor. Two commands are identical when
// they compare equal.
type Command struct {
	Kind Kind
	// GHz is the CFFREQ argument, zero for other kinds
	GHz float64
}

// IdentifyCommand returns IDN?.
func IdentifyCommand() Command { return Command{Kind: KindIdentify} }

// TemperatureCommand returns TEMP?.
func TemperatureCommand() Command { return Command{Kind: KindTemperature} }

// PowerCommand returns POW?.
func PowerCommand() Command { return Command{Kind: KindPower} }

// ZeroCommand returns ZERO.
func ZeroCommand() Command { return Command{Kind: KindZero} }

// SetFrequencyCommand returns CFFREQ for a frequency given in MHz.
// The sensor takes the value in GHz.
func SetFrequencyCommand(mhz float64) Command {
	return Command{Kind: KindSetFrequency, GHz: mhz / 1000}
}

// String returns the command line without terminator.
func (c Command) String() string {
	switch c.Kind {
	case KindIdentify:
		return "IDN?"
	case KindTemperature:
		return "TEMP?"
	case KindPower:
		return "POW?"
	case KindSetFrequency:
		return "CFFREQ " + strconv.FormatFloat(c.GHz, 'g', 6, 64)
	case KindZero:
		return "ZERO"
	default:
		return ""
	}
}

// Bytes returns the exact bytes to transmit, terminator included.
func (c Command) Bytes() []byte {
	return []byte(c.String() + string(LineTerminator))
}

// commandQueue is the FIFO of commands waiting for the in-flight slot.
type commandQueue struct {
	items []Command
}

func (q *commandQueue) push(c Command) {
	q.items = append(q.items, c)
}

func (q *commandQueue) pop() (Command, bool) {
	if len(q.items) == 0 {
		return Command{}, false
	}
	c := q.items[0]
	q.items[0] = Command{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return c, true
}

func (q *commandQueue) len() int {
	return len(q.items)
}

func (q *commandQueue) clear() {
	q.items = nil
}

func (q *commandQueue) has(k Kind) bool {
	return slices.ContainsFunc(q.items, func(c Command) bool { return c.Kind == k })
}

// removeKind drops every queued command of kind k and reports how many were dropped.
func (q *commandQueue) removeKind(k Kind) int {
	kept := q.items[:0]
	for _, c := range q.items {
		if c.Kind != k {
			kept = append(kept, c)
		}
	}
	n := len(q.items) - len(kept)
	q.items = kept
	return n
}

func (q *commandQueue) String() string {
	parts := make([]string, len(q.items))
	for i, c := range q.items {
		parts[i] = c.String()
	}
	return "[" + strings.Join(parts, " ") + "]"
}
