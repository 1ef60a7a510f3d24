package trilat

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ReadingHandler is called for every distance sensor value received.
// sensorID is derived from the topic; raw is the untouched payload string.
// accepted reports whether the value passed parsing and entered the store.
type ReadingHandler func(sensorID, raw string, accepted bool)

// MQTTClient manages the MQTT connection and the distance sensor
// subscription.
type MQTTClient struct {
	client         mqtt.Client
	config         *Config
	store          *ReadingStore
	readingHandler ReadingHandler
	isConnected    bool
	mu             sync.RWMutex
}

var (
	globalClient *MQTTClient
	clientMu     sync.Mutex
)

// InitMQTT initializes the global MQTT client with the provided
// configuration. If neither the MQTT_BROKER env var nor config.mqtt.broker is
// set, MQTT is disabled and this returns nil.
func InitMQTT(config *Config, store *ReadingStore, handler ReadingHandler) (*MQTTClient, error) {
	clientMu.Lock()
	defer clientMu.Unlock()

	broker := os.Getenv("MQTT_BROKER")
	if broker == "" && config != nil && config.MQTT.Broker != "" {
		broker = config.MQTT.Broker
	}

	if broker == "" {
		log.Println("MQTT disabled: MQTT_BROKER not set")
		return nil, nil
	}

	if config == nil || config.MQTT.ReadingPrefix == "" {
		return nil, fmt.Errorf("MQTT enabled but mqtt.readingPrefix not configured")
	}
	if store == nil {
		return nil, fmt.Errorf("MQTT enabled but no reading store provided")
	}

	client := &MQTTClient{
		config:         config,
		store:          store,
		readingHandler: handler,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)

	clientID := os.Getenv("MQTT_CLIENT_ID")
	if clientID == "" && config.MQTT.ClientID != "" {
		clientID = config.MQTT.ClientID
	}
	if clientID == "" {
		clientID = "tracelet"
	}
	opts.SetClientID(clientID)

	username := os.Getenv("MQTT_USERNAME")
	if username == "" && config.MQTT.Username != "" {
		username = config.MQTT.Username
	}
	if username != "" {
		opts.SetUsername(username)
		password := os.Getenv("MQTT_PASSWORD")
		if password == "" && config.MQTT.Password != "" {
			password = config.MQTT.Password
		}
		opts.SetPassword(password)
	}

	// Connection settings
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)   // Longer than default 30s to reduce spurious disconnects
	opts.SetPingTimeout(10 * time.Second) // Timeout for ping response
	opts.SetCleanSession(false)           // Preserve subscriptions on reconnect
	opts.SetOrderMatters(false)           // Allow concurrent processing

	// Callbacks
	opts.SetOnConnectHandler(client.onConnect)
	opts.SetConnectionLostHandler(client.onConnectionLost)
	opts.SetReconnectingHandler(client.onReconnecting)

	client.client = mqtt.NewClient(opts)

	// Connect asynchronously with retry
	go client.connectWithRetry()

	globalClient = client
	return client, nil
}

// GetMQTTClient returns the global MQTT client instance.
func GetMQTTClient() *MQTTClient {
	clientMu.Lock()
	defer clientMu.Unlock()
	return globalClient
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff.
func (c *MQTTClient) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		log.Println("Connecting to MQTT broker...")

		token := c.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				log.Println("Successfully connected to MQTT broker")
				c.setConnected(true)
				return
			}
			log.Printf("MQTT connection failed: %v", token.Error())
		} else {
			log.Println("MQTT connection timeout")
		}

		// Exponential backoff
		log.Printf("Retrying MQTT connection in %v...", retryDelay)
		time.Sleep(retryDelay)
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// readingTopic returns the wildcard subscription covering all distance
// sensors under the configured prefix, e.g. "bermuda/+/state".
func (c *MQTTClient) readingTopic() string {
	prefix := strings.TrimSuffix(c.config.MQTT.ReadingPrefix, "/")
	return prefix + "/+/state"
}

// onConnect is called when the MQTT connection is established.
func (c *MQTTClient) onConnect(client mqtt.Client) {
	topic := c.readingTopic()
	log.Printf("MQTT connected, subscribing to %s...", topic)
	c.setConnected(true)

	token := client.Subscribe(topic, 0, c.handleReadingMessage)
	if token.WaitTimeout(5*time.Second) && token.Error() != nil {
		log.Printf("Error subscribing to %s: %v", topic, token.Error())
	} else {
		log.Printf("Successfully subscribed to %s", topic)
	}
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (c *MQTTClient) onConnectionLost(client mqtt.Client, err error) {
	log.Printf("MQTT connection interrupted (%v), auto-reconnect will retry", err)
	c.setConnected(false)
}

// onReconnecting is called when the client attempts to reconnect.
func (c *MQTTClient) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT reconnecting...")
}

// handleReadingMessage ingests one distance sensor value. The sensor ID is
// the topic segment between the reading prefix and the trailing "/state".
func (c *MQTTClient) handleReadingMessage(client mqtt.Client, msg mqtt.Message) {
	sensorID, ok := SensorIDFromTopic(msg.Topic())
	if !ok {
		log.Printf("[DEBUG] mqtt: ignoring message on unexpected topic %s", msg.Topic())
		return
	}

	raw := strings.TrimSpace(string(msg.Payload()))
	accepted := c.store.Update(sensorID, raw)
	if !accepted {
		log.Printf("[DEBUG] mqtt: dropped reading from %s (payload %q)", sensorID, raw)
	}

	if c.readingHandler != nil {
		c.readingHandler(sensorID, raw, accepted)
	}
}

// SensorIDFromTopic extracts the sensor entity ID from a reading topic.
// Expected format: {prefix}/{sensorID}/state.
func SensorIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[len(parts)-1] != "state" {
		return "", false
	}
	sensorID := parts[len(parts)-2]
	if sensorID == "" {
		return "", false
	}
	return sensorID, true
}

// IsConnected returns true if the MQTT client is connected.
func (c *MQTTClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected
}

// setConnected updates the connection status.
func (c *MQTTClient) setConnected(connected bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isConnected = connected
}

// Disconnect gracefully closes the MQTT connection.
func (c *MQTTClient) Disconnect() {
	if c.client != nil && c.client.IsConnected() {
		log.Println("Disconnecting from MQTT broker...")
		c.client.Disconnect(250) // 250ms quiesce time
		c.setConnected(false)
	}
}

// GetClient returns the underlying MQTT client for publishing.
func (c *MQTTClient) GetClient() mqtt.Client {
	return c.client
}

// newMQTTClientWithMock creates an MQTTClient with a provided mqtt.Client.
// This is used for testing with mock clients.
func newMQTTClientWithMock(client mqtt.Client, config *Config, store *ReadingStore, handler ReadingHandler) *MQTTClient {
	return &MQTTClient{
		client:         client,
		config:         config,
		store:          store,
		readingHandler: handler,
	}
}
