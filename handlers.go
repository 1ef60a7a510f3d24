package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/kwv/tracelet/trilat"
)

// positionEntry is one device's estimate plus its friendly name.
type positionEntry struct {
	Name string `json:"name"`
	trilat.Estimate
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(stateTracker *trilat.StateTracker, floorplan *trilat.FloorplanStore, mqttClient *trilat.MQTTClient, config *trilat.Config) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		mqttConnected := mqttClient != nil && mqttClient.IsConnected()
		status := struct {
			Status        string    `json:"status"`
			Timestamp     time.Time `json:"timestamp"`
			MQTTConnected bool      `json:"mqttConnected"`
			HasEstimates  bool      `json:"hasEstimates"`
			Anchors       int       `json:"anchors"`
		}{
			Status:        "ok",
			Timestamp:     time.Now(),
			MQTTConnected: mqttConnected,
			HasEstimates:  stateTracker.HasEstimates(),
			Anchors:       len(floorplan.Anchors()),
		}
		writeJSON(w, status)
	})

	// All current estimates
	mux.HandleFunc("/positions", func(w http.ResponseWriter, r *http.Request) {
		estimates := stateTracker.GetEstimates()
		positions := make(map[string]positionEntry, len(estimates))
		for id, est := range estimates {
			positions[id] = positionEntry{Name: stateTracker.Name(id), Estimate: est}
		}
		writeJSON(w, struct {
			Devices   map[string]positionEntry `json:"devices"`
			Timestamp time.Time                `json:"timestamp"`
		}{Devices: positions, Timestamp: time.Now()})
	})

	// Single device estimate
	mux.HandleFunc("/position/", func(w http.ResponseWriter, r *http.Request) {
		deviceID := strings.TrimPrefix(r.URL.Path, "/position/")
		if deviceID == "" || strings.Contains(deviceID, "/") {
			http.NotFound(w, r)
			return
		}

		est, ok := stateTracker.GetEstimate(deviceID)
		if !ok {
			http.Error(w, "No estimate for device", http.StatusNotFound)
			return
		}
		writeJSON(w, positionEntry{Name: stateTracker.Name(deviceID), Estimate: est})
	})

	// Floorplan document
	mux.HandleFunc("/floorplan", func(w http.ResponseWriter, r *http.Request) {
		plan := floorplan.Snapshot()
		anchors := make(map[string]trilat.AnchorNode, plan.Anchors.Len())
		for _, a := range plan.Anchors.List() {
			anchors[a.ID] = trilat.AnchorNode{Coordinates: a.Position, Name: a.Alias}
		}
		writeJSON(w, struct {
			Floors         map[string]trilat.Floor        `json:"floors"`
			Rooms          map[string]trilat.Room         `json:"rooms"`
			StaticEntities map[string]trilat.StaticEntity `json:"staticEntities"`
			Anchors        map[string]trilat.AnchorNode   `json:"anchors"`
		}{
			Floors:         plan.Floors,
			Rooms:          plan.Rooms,
			StaticEntities: plan.StaticEntities,
			Anchors:        anchors,
		})
	})

	// Anchor list, in matcher precedence order
	mux.HandleFunc("/anchors", func(w http.ResponseWriter, r *http.Request) {
		anchors := floorplan.Anchors()
		type anchorEntry struct {
			ID       string      `json:"id"`
			Position trilat.Vec3 `json:"position"`
			Alias    string      `json:"alias,omitempty"`
		}
		entries := make([]anchorEntry, len(anchors))
		for i, a := range anchors {
			entries[i] = anchorEntry{ID: a.ID, Position: a.Position, Alias: a.Alias}
		}
		writeJSON(w, struct {
			Anchors []anchorEntry `json:"anchors"`
		}{Anchors: entries})
	})

	// Wrap mux with logging middleware
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] %s %s from %s", r.Method, r.URL.Path, r.RemoteAddr)
		mux.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON response: %v", err)
	}
}
