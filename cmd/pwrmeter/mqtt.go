package main

import (
	"encoding/json"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jaracil/pwrmeter"
)

type message struct {
	topic    string
	retained bool
	payload  any
}

type powerPayload struct {
	Dbm   float64 `json:"dbm"`
	Watts float64 `json:"watts"`
	Text  string  `json:"text"`
}

type temperaturePayload struct {
	Celsius float64 `json:"celsius"`
	Error   bool    `json:"error,omitempty"`
}

type statusPayload struct {
	Status   string `json:"status"`
	Port     string `json:"port,omitempty"`
	ID       string `json:"id,omitempty"`
	Firmware string `json:"firmware,omitempty"`
}

// publisher forwards readings to an MQTT broker.
type publisher struct {
	client mqtt.Client
	prefix string
	log    *slog.Logger
}

func newPublisher(o MQTTOptions, log *slog.Logger) *publisher {
	p := &publisher{prefix: o.Topic, log: log}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetWill(o.Topic+"/status", `{"status":"offline"}`, 0, true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info("mqtt connected", "broker", o.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("mqtt connection lost", "err", err)
	})

	p.client = mqtt.NewClient(opts)
	if token := p.client.Connect(); token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Warn("mqtt initial connection failed", "broker", o.Broker, "err", token.Error())
	}
	return p
}

func (p *publisher) update(u pwrmeter.Update) {
	if !p.client.IsConnected() {
		return
	}
	for _, m := range messagesFor(p.prefix, u) {
		b, err := json.Marshal(m.payload)
		if err != nil {
			p.log.Warn("mqtt payload", "topic", m.topic, "err", err)
			continue
		}
		p.client.Publish(m.topic, 0, m.retained, b)
	}
}

func (p *publisher) close() {
	p.client.Publish(p.prefix+"/status", 0, true, []byte(`{"status":"offline"}`)).WaitTimeout(time.Second)
	p.client.Disconnect(250)
}

// messagesFor maps an update to the messages published for it.
func messagesFor(prefix string, u pwrmeter.Update) []message {
	switch u := u.(type) {
	case pwrmeter.PowerChanged:
		if !u.Reading.Valid {
			return nil
		}
		return []message{{
			topic:   prefix + "/power",
			payload: powerPayload{Dbm: u.Reading.Dbm, Watts: u.Reading.Watts, Text: u.Reading.String()},
		}}
	case pwrmeter.TemperatureChanged:
		if !u.Temperature.Valid && !u.Temperature.Err {
			return nil
		}
		return []message{{
			topic:   prefix + "/temperature",
			payload: temperaturePayload{Celsius: u.Temperature.Celsius, Error: u.Temperature.Err},
		}}
	case pwrmeter.StatusChanged:
		return []message{{
			topic:    prefix + "/status",
			retained: true,
			payload: statusPayload{
				Status:   u.Status.String(),
				Port:     u.Port,
				ID:       u.Identity.ID,
				Firmware: u.Identity.Firmware,
			},
		}}
	}
	return nil
}
