package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/kwv/tracelet/trilat"
)

// Version is set at build time via -ldflags
var Version = "dev"

var (
	configFile = flag.String("config", "config.yml", "Path to configuration file")
	dataDir    = flag.String("data-dir", ".", "Directory containing config and floorplan files")
	mqttMode   = flag.Bool("mqtt", false, "Run MQTT service mode for real-time position tracking")
	httpMode   = flag.Bool("http", false, "Enable HTTP server for positions and floorplan")
	httpPort   = flag.Int("http-port", 8080, "HTTP server port (default 8080)")
	// Debug modes
	solveOnce  = flag.String("solve-once", "", "One-shot solve from readings: LABEL=METERS,LABEL=METERS,... (uses floorplan anchors)")
	matchLabel = flag.String("match", "", "Resolve a sensor label against the floorplan anchors and exit")
)

// AppOptions carries parsed CLI flags into the App
type AppOptions struct {
	DataDir    string
	ConfigFile string
	HttpPort   int
	MqttMode   bool
	HttpMode   bool
}

func main() {
	flag.Parse()
	fmt.Printf("tracelet version: %s\n", Version)

	app := NewApp()
	app.ApplyOptions(AppOptions{
		DataDir:    *dataDir,
		ConfigFile: *configFile,
		HttpPort:   *httpPort,
		MqttMode:   *mqttMode,
		HttpMode:   *httpMode,
	})

	if *matchLabel != "" {
		runMatch(app, *matchLabel)
		return
	}

	if *solveOnce != "" {
		runSolveOnce(app, *solveOnce)
		return
	}

	if *mqttMode || *httpMode {
		app.RunService()
		return
	}

	fmt.Println("tracelet - indoor position estimation from Bluetooth distance sensors")
	fmt.Println("Use --mqtt to run MQTT service mode")
	fmt.Println("Use --http to run HTTP server mode")
	fmt.Println("Use --mqtt --http to run both together")
	fmt.Println("Use --match=LABEL to test anchor matching against the floorplan")
	fmt.Println("Use --solve-once=LABEL=METERS,... to test trilateration against the floorplan")
	fmt.Println("\nConfiguration:")
	fmt.Println("  config.yml    - MQTT settings, tracked devices, solver tuning")
	fmt.Println("  floorplan.yml - Floors, rooms, and anchor node positions")
}

// runMatch resolves one sensor label against the floorplan anchors
func runMatch(app *App, label string) {
	anchors := loadAnchors(app)

	anchor, ok := trilat.MatchAnchor(label, anchors)
	if !ok {
		fmt.Printf("No anchor matches %q (checked %d anchors)\n", label, len(anchors))
		return
	}
	fmt.Printf("%q -> %s", label, anchor.ID)
	if anchor.Alias != "" {
		fmt.Printf(" (%s)", anchor.Alias)
	}
	fmt.Printf(" at (%.2f, %.2f, %.2f)\n", anchor.Position.X, anchor.Position.Y, anchor.Position.Z)
}

// runSolveOnce performs a single trilateration from CLI-supplied readings
func runSolveOnce(app *App, spec string) {
	anchors := loadAnchors(app)

	var readings []trilat.RangeReading
	for _, pair := range strings.Split(spec, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			log.Fatalf("Invalid reading %q (expected LABEL=METERS)", pair)
		}
		dist, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			log.Fatalf("Invalid distance in %q: %v", pair, err)
		}
		readings = append(readings, trilat.RangeReading{Label: parts[0], Distance: dist})
	}

	locator := trilat.NewLocator(trilat.DefaultSolverConfig())
	est, err := locator.LocateDevice("cli", readings, anchors)
	if err != nil {
		log.Fatalf("Solve failed: %v", err)
	}

	fmt.Printf("Position: (%.2f, %.2f, %.2f)\n", est.Position.X, est.Position.Y, est.Position.Z)
	fmt.Printf("RMS residual: %.3fm, converged: %v\n", est.RMS, est.Converged)
}

// loadAnchors loads the floorplan and returns its anchors, for debug modes
func loadAnchors(app *App) []trilat.Anchor {
	_, floorplanPath := app.resolvePaths()
	floorplan, err := trilat.LoadFloorplan(floorplanPath)
	if err != nil {
		log.Fatalf("Failed to load floorplan: %v (looked at %s)", err, floorplanPath)
	}
	anchors := floorplan.Anchors()
	if len(anchors) == 0 {
		log.Fatalf("Floorplan %s has no anchors configured", floorplanPath)
	}
	return anchors
}
