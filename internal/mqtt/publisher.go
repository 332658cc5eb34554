package mqtt

import (
	"crypto/rand"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joshp123/gopetcare/internal/config"
	"github.com/joshp123/gopetcare/petkit"
)

// Publisher pushes retained device state snapshots to an MQTT broker, one
// topic per device.
type Publisher struct {
	client mqtt.Client
	prefix string
}

// New connects to the broker. Reconnects are handled by the client.
func New(cfg config.MQTTConfig) (*Publisher, error) {
	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetClientID(randomClientID())
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return &Publisher{client: client, prefix: cfg.TopicPrefix}, nil
}

// PublishSnapshot publishes every device in the snapshot as retained JSON.
func (p *Publisher) PublishSnapshot(snapshot *petkit.Snapshot) error {
	for id, fountain := range snapshot.Fountains {
		if err := p.publish("fountain", id, fountain); err != nil {
			return err
		}
	}
	for id, box := range snapshot.LitterBoxes {
		if err := p.publish("litterbox", id, box); err != nil {
			return err
		}
	}
	for id, feeder := range snapshot.Feeders {
		if err := p.publish("feeder", id, feeder); err != nil {
			return err
		}
	}
	for id, purifier := range snapshot.Purifiers {
		if err := p.publish("purifier", id, purifier); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publish(kind string, id int64, state any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal %s state: %w", kind, err)
	}
	topic := p.prefix + "/" + kind + "/" + strconv.FormatInt(id, 10) + "/state"
	if token := p.client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish %s: %w", topic, token.Error())
	}
	return nil
}

// Close disconnects from the broker, allowing in-flight publishes to
// finish.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}

func randomClientID() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return "gopetcare-" + base64.RawURLEncoding.EncodeToString(buf)
}
