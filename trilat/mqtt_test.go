package trilat

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMQTTConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker:        "tcp://localhost:1883",
			ReadingPrefix: "bermuda",
		},
	}
}

func TestSensorIDFromTopic(t *testing.T) {
	tests := []struct {
		topic string
		want  string
		ok    bool
	}{
		{"bermuda/watch_distance_to_lounge/state", "watch_distance_to_lounge", true},
		{"deep/prefix/watch_distance_to_lounge/state", "watch_distance_to_lounge", true},
		{"bermuda/watch_distance_to_lounge", "", false},
		{"bermuda//state", "", false},
		{"state", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		got, ok := SensorIDFromTopic(tt.topic)
		if ok != tt.ok || got != tt.want {
			t.Errorf("SensorIDFromTopic(%q) = (%q, %v), want (%q, %v)", tt.topic, got, ok, tt.want, tt.ok)
		}
	}
}

func TestReadingTopic(t *testing.T) {
	client := newMQTTClientWithMock(NewMockClient(), testMQTTConfig(), NewReadingStore(), nil)
	assert.Equal(t, "bermuda/+/state", client.readingTopic())

	cfg := testMQTTConfig()
	cfg.MQTT.ReadingPrefix = "bermuda/"
	client = newMQTTClientWithMock(NewMockClient(), cfg, NewReadingStore(), nil)
	assert.Equal(t, "bermuda/+/state", client.readingTopic())
}

func TestMQTTMessageIngestion(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	store := NewReadingStore()

	var mu sync.Mutex
	var handled []string
	handler := func(sensorID, raw string, accepted bool) {
		mu.Lock()
		defer mu.Unlock()
		if accepted {
			handled = append(handled, sensorID)
		}
	}

	client := newMQTTClientWithMock(mock, testMQTTConfig(), store, handler)
	client.onConnect(mock)
	require.True(t, client.IsConnected())

	mock.SimulateMessage("bermuda/watch_distance_to_lounge/state", []byte("3.2"))

	assert.Equal(t, 1, store.Len())
	mu.Lock()
	assert.Equal(t, []string{"watch_distance_to_lounge"}, handled)
	mu.Unlock()

	batches := store.Snapshot(0)
	require.Contains(t, batches, "watch")
	assert.Equal(t, 3.2, batches["watch"][0].Distance)
}

func TestMQTTRejectsBadPayload(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	store := NewReadingStore()

	var mu sync.Mutex
	rejected := 0
	handler := func(sensorID, raw string, accepted bool) {
		mu.Lock()
		defer mu.Unlock()
		if !accepted {
			rejected++
		}
	}

	client := newMQTTClientWithMock(mock, testMQTTConfig(), store, handler)
	client.onConnect(mock)

	mock.SimulateMessage("bermuda/watch_distance_to_lounge/state", []byte("unavailable"))
	mock.SimulateMessage("bermuda/watch_distance_to_lounge/state", []byte("-4"))

	assert.Equal(t, 0, store.Len())
	mu.Lock()
	assert.Equal(t, 2, rejected)
	mu.Unlock()
}

func TestMQTTIgnoresUnrelatedTopics(t *testing.T) {
	mock := NewMockClient()
	mock.SetConnected(true)

	store := NewReadingStore()
	client := newMQTTClientWithMock(mock, testMQTTConfig(), store, nil)
	client.onConnect(mock)

	// Not under the reading prefix; the subscription filter never matches.
	mock.SimulateMessage("other/watch_distance_to_lounge/state", []byte("3.2"))
	assert.Equal(t, 0, store.Len())
}

func TestInitMQTTDisabledWithoutBroker(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	client, err := InitMQTT(&Config{}, NewReadingStore(), nil)
	require.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitMQTTRequiresReadingPrefix(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	cfg := testMQTTConfig()
	cfg.MQTT.ReadingPrefix = ""

	_, err := InitMQTT(cfg, NewReadingStore(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "readingPrefix")
}

func TestInitMQTTRequiresStore(t *testing.T) {
	t.Setenv("MQTT_BROKER", "")

	_, err := InitMQTT(testMQTTConfig(), nil, nil)
	require.Error(t, err)
}

func TestConnectionStateTracking(t *testing.T) {
	client := newMQTTClientWithMock(NewMockClient(), testMQTTConfig(), NewReadingStore(), nil)

	assert.False(t, client.IsConnected())
	client.setConnected(true)
	assert.True(t, client.IsConnected())
	client.onConnectionLost(nil, assert.AnError)
	assert.False(t, client.IsConnected())
}
