package main

import (
	"time"

	"github.com/jaracil/pwrmeter"
	"github.com/jessevdk/go-flags"
)

// Options are read from the command line, the environment and an optional
// INI file. The command line wins over the file.
type Options struct {
	Config string `short:"c" long:"config" env:"PWRMETER_CONFIG" description:"INI configuration file" no-ini:"true"`

	Port           string  `short:"p" long:"port" env:"PWRMETER_PORT" description:"Serial port of the sensor, connected at start up"`
	Baud           int     `short:"b" long:"baud" env:"PWRMETER_BAUD" default:"9600" description:"Serial baud rate"`
	AttenuationCSV string  `long:"attenuation-csv" env:"PWRMETER_ATTENUATION_CSV" description:"CSV file with frequency (Hz) and S21 (dB) columns"`
	Presets        string  `long:"presets" env:"PWRMETER_PRESETS" description:"JSON or YAML file with named frequency ranges"`
	Attenuation    float64 `short:"a" long:"attenuation" description:"Attenuation offset in dB added to readings"`
	Frequency      float64 `short:"f" long:"frequency" description:"Frequency in MHz set once the sensor is identified"`
	Measure        bool    `short:"m" long:"measure" description:"Start measuring once the sensor is identified"`
	Watch          bool    `short:"w" long:"watch" description:"Print every power reading"`
	Trace          bool    `long:"trace" description:"Print the command and reply log"`

	Engine EngineOptions `group:"Engine"`
	Log    LogOptions    `group:"Logging"`
	MQTT   MQTTOptions   `group:"MQTT"`

	MetricsAddr string `long:"metrics-addr" env:"PWRMETER_METRICS_ADDR" description:"Listen address of the Prometheus endpoint (disabled when empty)"`
}

type EngineOptions struct {
	PollInterval        time.Duration `long:"poll-interval" default:"250ms" description:"Power poll period"`
	TemperatureInterval time.Duration `long:"temperature-interval" default:"10s" description:"Temperature poll period"`
	ZeroDelay           time.Duration `long:"zero-delay" default:"1s" description:"Delay between a zero request and the ZERO command"`
	FrequencySettle     time.Duration `long:"frequency-settle" default:"1s" description:"Delay between a frequency request and the CFFREQ command"`
	ZeroPolicy          string        `long:"zero-policy" default:"wait" choice:"wait" choice:"retry" description:"Handling of a ZERO reply other than OK"`
	ZeroTimeout         time.Duration `long:"zero-timeout" default:"0s" description:"Abort a zero calibration not acknowledged in time (0 waits forever)"`
}

type LogOptions struct {
	Level  string `long:"log-level" env:"PWRMETER_LOG_LEVEL" default:"info" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Log level"`
	Format string `long:"log-format" env:"PWRMETER_LOG_FORMAT" default:"auto" choice:"auto" choice:"console" choice:"json" description:"Log format"`
}

type MQTTOptions struct {
	Broker   string `long:"mqtt-broker" env:"PWRMETER_MQTT_BROKER" description:"MQTT broker URL, e.g. tcp://localhost:1883 (disabled when empty)"`
	ClientID string `long:"mqtt-client-id" default:"pwrmeter" description:"MQTT client identifier"`
	Topic    string `long:"mqtt-topic" default:"pwrmeter" description:"MQTT topic prefix"`
	Username string `long:"mqtt-username" env:"PWRMETER_MQTT_USERNAME" description:"MQTT user name"`
	Password string `long:"mqtt-password" env:"PWRMETER_MQTT_PASSWORD" description:"MQTT password"`
}

// parseOptions parses args. When a configuration file is named, its values
// are loaded and args are parsed again so that they take precedence.
func parseOptions(args []string) (*Options, error) {
	opts := &Options{}
	p := flags.NewParser(opts, flags.HelpFlag|flags.PassDoubleDash)
	p.Name = "pwrmeter"
	if _, err := p.ParseArgs(args); err != nil {
		return nil, err
	}
	if opts.Config == "" {
		return opts, nil
	}
	if err := flags.NewIniParser(p).ParseFile(opts.Config); err != nil {
		return nil, err
	}
	if _, err := p.ParseArgs(args); err != nil {
		return nil, err
	}
	return opts, nil
}

// engineConfig maps the options onto a session configuration. Hooks and
// collaborators are set by the caller.
func (o *Options) engineConfig() (pwrmeter.Config, error) {
	policy, err := pwrmeter.ParseZeroPolicy(o.Engine.ZeroPolicy)
	if err != nil {
		return pwrmeter.Config{}, err
	}
	return pwrmeter.Config{
		PowerPollInterval:   o.Engine.PollInterval,
		TemperatureInterval: o.Engine.TemperatureInterval,
		ZeroDelay:           o.Engine.ZeroDelay,
		FrequencySettle:     o.Engine.FrequencySettle,
		ZeroTimeout:         o.Engine.ZeroTimeout,
		ZeroPolicy:          policy,
	}, nil
}

func isHelp(err error) bool {
	fe, ok := err.(*flags.Error)
	return ok && fe.Type == flags.ErrHelp
}
