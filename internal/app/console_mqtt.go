package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/grip_recorder/internal/config"
	"github.com/relabs-tech/grip_recorder/internal/recording"
)

func RunConsoleMQTT(cfg *config.Config) error {
	if !cfg.MQTTEnabled() {
		return fmt.Errorf("MQTT_BROKER is empty, nothing to subscribe to")
	}
	client, err := ConnectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	// Subscribe to run status
	statusToken := client.Subscribe(cfg.TopicStatus, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var e recording.Event
		if err := json.Unmarshal(msg.Payload(), &e); err != nil {
			log.Printf("console: status unmarshal error: %v", err)
			return
		}
		fmt.Println(formatStatus(e))
	})
	statusToken.Wait()
	if statusToken.Error() != nil {
		return statusToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicStatus)

	// Subscribe to run results
	resultToken := client.Subscribe(cfg.TopicResult, 1, func(_ mqtt.Client, msg mqtt.Message) {
		var res recording.Result
		if err := json.Unmarshal(msg.Payload(), &res); err != nil {
			log.Printf("console: result unmarshal error: %v", err)
			return
		}
		fmt.Println(formatResult(&res))
	})
	resultToken.Wait()
	if resultToken.Error() != nil {
		return resultToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicResult)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("console: shutting down")
	client.Disconnect(250)
	return nil
}

func formatStatus(e recording.Event) string {
	id := e.SessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf("[RUN ] %s %-10s %s  %s", e.Time.Format("15:04:05.000"), e.State, id, e.Message)
}

func formatResult(res *recording.Result) string {
	if res.State == recording.Failed {
		return fmt.Sprintf("[FAIL] %s  %.1fcm @ %.2fm/s  cause=%s",
			res.SessionID, res.Params.DistanceCM, res.Params.SpeedMPS, res.Cause)
	}
	file := "-"
	if res.Persisted {
		file = res.Artifact.Path
	}
	return fmt.Sprintf("[DONE] %s  %.1fcm @ %.2fm/s  wait=%s kept=%d non_numeric=%d dropped=%d aborted=%t file=%s",
		res.SessionID, res.Params.DistanceCM, res.Params.SpeedMPS, res.Wait.Round(time.Millisecond),
		res.Retained, res.NonNumeric, res.Dropped, res.Aborted, file)
}
