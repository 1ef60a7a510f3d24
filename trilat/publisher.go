package trilat

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher manages publishing device position estimates to MQTT.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	retain        bool
	estimates     map[string]Estimate
	mu            sync.RWMutex
}

// NewPublisher creates a new estimate publisher.
// If client is nil, publishing is disabled (for testing).
func NewPublisher(client mqtt.Client) *Publisher {
	prefix := os.Getenv("MQTT_PUBLISH_PREFIX")
	if prefix == "" {
		prefix = "tracelet"
	}

	return &Publisher{
		client:        client,
		publishPrefix: prefix,
		qos:           0,    // QoS 0 for position updates (fire and forget)
		retain:        true, // Retain for latest position
		estimates:     make(map[string]Estimate),
	}
}

// SetPrefix overrides the publish topic prefix (normally from config).
func (p *Publisher) SetPrefix(prefix string) {
	if prefix != "" {
		p.publishPrefix = prefix
	}
}

// PublishEstimate publishes a single device's estimate to MQTT.
// Publishes to both the individual topic and the combined positions topic.
func (p *Publisher) PublishEstimate(est Estimate) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	// Store estimate for combined message
	p.mu.Lock()
	p.estimates[est.DeviceID] = est
	p.mu.Unlock()

	// Publish to individual topic: tracelet/{deviceID}
	if err := p.publishIndividual(est); err != nil {
		log.Printf("Error publishing estimate for %s: %v", est.DeviceID, err)
		return err
	}

	// Publish to combined topic: tracelet/positions
	if err := p.publishCombined(); err != nil {
		log.Printf("Error publishing combined positions: %v", err)
		return err
	}

	return nil
}

// publishIndividual publishes a single device estimate to its own topic.
func (p *Publisher) publishIndividual(est Estimate) error {
	topic := fmt.Sprintf("%s/%s", p.publishPrefix, est.DeviceID)

	payload, err := json.Marshal(est)
	if err != nil {
		return fmt.Errorf("marshaling estimate: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	log.Printf("Published estimate for %s: (%.2f, %.2f, %.2f) rms=%.2fm",
		est.DeviceID, est.Position.X, est.Position.Y, est.Position.Z, est.RMS)
	return nil
}

// publishCombined publishes all device estimates to the combined topic.
func (p *Publisher) publishCombined() error {
	p.mu.RLock()
	estimates := make([]Estimate, 0, len(p.estimates))
	for _, est := range p.estimates {
		estimates = append(estimates, est)
	}
	p.mu.RUnlock()

	if len(estimates) == 0 {
		return nil
	}

	topic := fmt.Sprintf("%s/positions", p.publishPrefix)

	message := map[string]interface{}{
		"devices":   estimates,
		"timestamp": time.Now().Unix(),
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshaling combined positions: %w", err)
	}

	token := p.client.Publish(topic, p.qos, p.retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}

	return nil
}

// GetEstimate returns the last published estimate for a device.
func (p *Publisher) GetEstimate(deviceID string) (Estimate, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	est, ok := p.estimates[deviceID]
	return est, ok
}

// GetAllEstimates returns all last-published estimates.
func (p *Publisher) GetAllEstimates() map[string]Estimate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	estimates := make(map[string]Estimate, len(p.estimates))
	for id, est := range p.estimates {
		estimates[id] = est
	}
	return estimates
}

// ClearEstimate removes a device's estimate (e.g. when it goes stale).
func (p *Publisher) ClearEstimate(deviceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.estimates, deviceID)
}

// SetQoS sets the Quality of Service level for publishing (0, 1, or 2).
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}

// SetRetain sets whether published messages should be retained by the broker.
func (p *Publisher) SetRetain(retain bool) {
	p.retain = retain
}
