// Package telemetry publishes chat server lifecycle events and periodic
// status snapshots to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/parley-project/parley/internal/config"
	"github.com/parley-project/parley/internal/events"
	"github.com/parley-project/parley/internal/util"
)

// MQTT topics
const (
	TopicStatus   = "parley/status"
	TopicSessions = "parley/sessions"
	TopicRooms    = "parley/rooms"
	TopicAdmin    = "parley/admin"
)

// StatusSource is the read-only view of the chat core the periodic
// status publisher samples.
type StatusSource interface {
	SessionCount() int
	ListRooms() []string
	Uptime() time.Duration
}

// MQTTHandler manages the MQTT connection and publishes telemetry.
type MQTTHandler struct {
	mu sync.Mutex

	cfg      *config.Config
	eventBus *events.EventBus
	source   StatusSource
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus, source StatusSource) (*MQTTHandler, error) {
	mqttCfg := cfg.GetApplicationData().MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":  sysInfo.Hostname,
		"os":        sysInfo.OS,
		"cpu_model": sysInfo.CPUModel,
		"cpu_cores": sysInfo.CPUCores,
		"memory_mb": sysInfo.TotalMemory,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		source:   source,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("parleyd-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		// mTLS: load client certificate
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the broker, subscribes to lifecycle events, and
// publishes periodic status until the context is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	mqttCfg := h.cfg.GetApplicationData().MQTT

	log.Info().
		Str("broker", mqttCfg.BrokerURL).
		Int("port", mqttCfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	interval := time.Duration(mqttCfg.StatusInterval) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.PublishShutdown()
			h.client.Disconnect(5000)
			log.Info().Msg("MQTT disconnected")
			return nil
		case <-ticker.C:
			h.publishStatus()
		}
	}
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventSessionJoined, "mqtt.sessionJoined", h.onSessionEvent("joined"))
	h.eventBus.Subscribe(events.EventSessionTimedOut, "mqtt.sessionTimedOut", h.onSessionEvent("timed_out"))
	h.eventBus.Subscribe(events.EventSessionClosed, "mqtt.sessionClosed", h.onSessionEvent("closed"))
	h.eventBus.Subscribe(events.EventNameRejected, "mqtt.nameRejected", h.onSessionEvent("rejected"))
	h.eventBus.Subscribe(events.EventRoomCreated, "mqtt.roomCreated", h.onRoomEvent("created"))
	h.eventBus.Subscribe(events.EventRoomDeleted, "mqtt.roomDeleted", h.onRoomEvent("deleted"))
}

func (h *MQTTHandler) onSessionEvent(kind string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicSessions, map[string]interface{}{
			"event":   kind,
			"payload": event.Payload,
		})
		return nil
	}
}

func (h *MQTTHandler) onRoomEvent(kind string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(TopicRooms, map[string]interface{}{
			"event":   kind,
			"payload": event.Payload,
		})
		return nil
	}
}

// publishStatus samples the chat core and the host.
func (h *MQTTHandler) publishStatus() {
	status := map[string]interface{}{
		"sessions":   h.source.SessionCount(),
		"rooms":      h.source.ListRooms(),
		"uptime_sec": int(h.source.Uptime().Seconds()),
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		status["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memory"] = mem
	}
	h.publish(TopicStatus, status)
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

// PublishShutdown sends a shutdown message to the MQTT broker.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event":     "shutdown",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
