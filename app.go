package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kwv/tracelet/trilat"
)

// App encapsulates the application state and dependencies
type App struct {
	Config       *trilat.Config
	Floorplan    *trilat.FloorplanStore
	Readings     *trilat.ReadingStore
	StateTracker *trilat.StateTracker
	Locator      *trilat.Locator
	MQTTClient   *trilat.MQTTClient
	Publisher    *trilat.Publisher

	// CLI Flags (effectively dependencies)
	DataDir    string
	ConfigFile string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
}

// NewApp creates a new App instance
func NewApp() *App {
	return &App{
		Readings:     trilat.NewReadingStore(),
		StateTracker: trilat.NewStateTracker(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.DataDir = opts.DataDir
	a.ConfigFile = opts.ConfigFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
}

// resolvePaths resolves the config and floorplan paths relative to data-dir
// when they are still pointing at their defaults.
func (a *App) resolvePaths() (configPath, floorplanPath string) {
	configPath = a.ConfigFile
	if a.DataDir != "." && configPath == "config.yml" {
		configPath = filepath.Join(a.DataDir, "config.yml")
	}

	floorplanPath = "floorplan.yml"
	if a.Config != nil && a.Config.FloorplanFile != "" {
		floorplanPath = a.Config.FloorplanFile
	}
	if !filepath.IsAbs(floorplanPath) && a.DataDir != "." {
		floorplanPath = filepath.Join(a.DataDir, floorplanPath)
	}
	return configPath, floorplanPath
}

// RunService starts the combined MQTT and/or HTTP service
func (a *App) RunService() {
	fmt.Println("Starting tracelet service...")

	// 1. Load config.yml (required)
	configPath, _ := a.resolvePaths()
	config, err := trilat.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v (looked at %s)", err, configPath)
	}
	a.Config = config
	log.Printf("Loaded config from %s", configPath)

	// 2. Load the floorplan (created empty on first run)
	_, floorplanPath := a.resolvePaths()
	floorplan, err := trilat.LoadFloorplan(floorplanPath)
	if err != nil {
		log.Fatalf("Failed to load floorplan: %v (looked at %s)", err, floorplanPath)
	}
	a.Floorplan = floorplan

	if len(floorplan.Anchors()) < trilat.DefaultSolverConfig().MinAnchors {
		log.Printf("Warning: floorplan has %d anchors; at least %d are needed before positions can be estimated",
			len(floorplan.Anchors()), trilat.DefaultSolverConfig().MinAnchors)
	}

	// 3. Set friendly names from config
	for _, dc := range config.Devices {
		if dc.Name != "" {
			a.StateTracker.SetName(dc.ID, dc.Name)
		}
	}

	a.Locator = trilat.NewLocator(config.SolverConfig())

	// 4. Start MQTT if enabled
	if a.MqttMode {
		mqttClient, err := trilat.InitMQTT(config, a.Readings, nil)
		if err != nil {
			log.Fatalf("Failed to initialize MQTT: %v", err)
		}
		a.MQTTClient = mqttClient

		if mqttClient == nil {
			log.Fatal("MQTT broker not configured in config.yml")
		}

		a.Publisher = trilat.NewPublisher(mqttClient.GetClient())
		a.Publisher.SetPrefix(config.MQTT.PublishPrefix)
		fmt.Println("MQTT position publisher initialized")
	}

	// 5. Start the estimation ticker
	stopEstimation := make(chan struct{})
	go a.runEstimationLoop(stopEstimation)

	// 6. Start HTTP server if enabled
	if a.HttpMode {
		httpServer := newHTTPServer(a.StateTracker, a.Floorplan, a.MQTTClient, a.Config)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
		}()
	}

	// 7. Print service info
	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		fmt.Println("\nMQTT:")
		fmt.Printf("  Subscribed to: %s/+/state\n", config.MQTT.ReadingPrefix)
		publishPrefix := config.MQTT.PublishPrefix
		if publishPrefix == "" {
			publishPrefix = "tracelet"
		}
		fmt.Printf("  Publishing to: %s/{deviceID}\n", publishPrefix)
		fmt.Printf("  Combined positions: %s/positions\n", publishPrefix)
		fmt.Printf("  Estimation cycle: %s\n", config.CycleInterval())
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET /health            - Health check")
		fmt.Println("  GET /positions         - All current position estimates")
		fmt.Println("  GET /position/{device} - Single device estimate")
		fmt.Println("  GET /floorplan         - Floorplan document")
		fmt.Println("  GET /anchors           - Configured anchor nodes")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	// 8. Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	close(stopEstimation)
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
}

// runEstimationLoop re-solves all device positions on a fixed interval until
// stop is closed.
func (a *App) runEstimationLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(a.Config.CycleInterval())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			a.runEstimationCycle()
		}
	}
}

// runEstimationCycle takes one consistent snapshot of the reading cache,
// solves every device that has enough fresh readings, and publishes the
// results. Anchors are re-read from the floorplan each cycle so edits take
// effect immediately.
func (a *App) runEstimationCycle() {
	anchors := a.Floorplan.Anchors()
	if len(anchors) == 0 {
		return
	}

	batches := a.Readings.Snapshot(a.Config.ReadingMaxAge())
	if len(a.Config.Devices) > 0 {
		batches = a.filterConfiguredDevices(batches)
	}
	if len(batches) == 0 {
		return
	}

	estimates := a.Locator.LocateAll(batches, anchors)
	for _, est := range estimates {
		a.StateTracker.UpdateEstimate(est)
		log.Printf("%s: position (%.2f, %.2f, %.2f) rms=%.2fm converged=%v",
			est.DeviceID, est.Position.X, est.Position.Y, est.Position.Z, est.RMS, est.Converged)

		if a.Publisher != nil {
			if err := a.Publisher.PublishEstimate(est); err != nil {
				log.Printf("Error publishing estimate for %s: %v", est.DeviceID, err)
			}
		}
	}

	// Devices whose readings have all gone stale fall out of the API after a
	// few missed cycles.
	for _, id := range a.StateTracker.PruneOlderThan(3 * a.Config.ReadingMaxAge()) {
		log.Printf("%s: readings stale, dropping estimate", id)
		if a.Publisher != nil {
			a.Publisher.ClearEstimate(id)
		}
	}
}

// filterConfiguredDevices keeps only batches for devices listed in the
// config. With no devices configured, everything under the reading prefix is
// tracked.
func (a *App) filterConfiguredDevices(batches map[string][]trilat.RangeReading) map[string][]trilat.RangeReading {
	filtered := make(map[string][]trilat.RangeReading, len(batches))
	for deviceID, readings := range batches {
		if a.Config.GetDeviceByID(deviceID) != nil {
			filtered[deviceID] = readings
		} else {
			log.Printf("[DEBUG] ignoring readings for unconfigured device %s", deviceID)
		}
	}
	return filtered
}
