package app

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/grip_recorder/internal/config"
	"github.com/relabs-tech/grip_recorder/internal/recording"
)

// publisher is the part of mqtt.Client the reporter needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTReporter publishes every run event to the status topic and the final
// result, retained, to the result topic.
type MQTTReporter struct {
	client      publisher
	statusTopic string
	resultTopic string
}

// NewMQTTReporter wraps a connected client.
func NewMQTTReporter(client publisher, cfg *config.Config) *MQTTReporter {
	return &MQTTReporter{
		client:      client,
		statusTopic: cfg.TopicStatus,
		resultTopic: cfg.TopicResult,
	}
}

// ConnectMQTT connects to broker with clientID.
func ConnectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(5 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	log.Printf("mqtt: connected to broker at %s", broker)
	return client, nil
}

// OnEvent never blocks: delivery errors are logged when the token settles.
func (r *MQTTReporter) OnEvent(e recording.Event) {
	status := e
	status.Result = nil
	r.publish(r.statusTopic, 0, false, status)
	if e.Result != nil {
		r.publish(r.resultTopic, 1, true, e.Result)
	}
}

func (r *MQTTReporter) publish(topic string, qos byte, retained bool, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("mqtt: marshal for %s: %v", topic, err)
		return
	}
	token := r.client.Publish(topic, qos, retained, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			log.Printf("mqtt: publish to %s failed: %v", topic, err)
		}
	}()
}
