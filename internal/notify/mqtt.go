package notify

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const topicPrefix = "trailmates/notify"

type MQTT struct {
	client mqtt.Client
	qos    byte
}

// DialMQTT connects to broker with auto-reconnect and a clean session.
func DialMQTT(broker, clientID string) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	return NewMQTT(client), nil
}

func NewMQTT(client mqtt.Client) *MQTT {
	return &MQTT{client: client, qos: 1}
}

func Topic(ev Event) string {
	return fmt.Sprintf("%s/%s/%s", topicPrefix, ev.ActivityID, ev.Kind)
}

func (m *MQTT) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	topic := Topic(ev)
	token := m.client.Publish(topic, m.qos, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) Close() {
	m.client.Disconnect(250)
}
