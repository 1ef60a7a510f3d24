package trilat

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"
)

// Floor is one building level.
type Floor struct {
	Height float64 `yaml:"height" json:"height"` // floor height in meters
	Name   string  `yaml:"name,omitempty" json:"name,omitempty"`
}

// Room is a named region on a floor. Boundaries are stored for consumers
// (dashboards, renderers); tracelet itself never evaluates them.
type Room struct {
	Name       string       `yaml:"name,omitempty" json:"name,omitempty"`
	Floor      string       `yaml:"floor" json:"floor"`
	Boundaries [][2]float64 `yaml:"boundaries,omitempty" json:"boundaries,omitempty"`
	Area       string       `yaml:"area,omitempty" json:"area,omitempty"` // optional external area ID
}

// StaticEntity is a fixed, non-anchor object placed on the floorplan.
type StaticEntity struct {
	Coordinates Vec3 `yaml:"coordinates" json:"coordinates"`
}

// AnchorNode is a fixed Bluetooth node used as a trilateration landmark.
type AnchorNode struct {
	Coordinates Vec3   `yaml:"coordinates" json:"coordinates"`
	Name        string `yaml:"name,omitempty" json:"name,omitempty"` // friendly alias
}

// AnchorSet is an ordered collection of anchor nodes keyed by ID. Order is
// the YAML document order (or Add order), which makes matcher tie-breaking
// reproducible across restarts.
type AnchorSet struct {
	ids   []string
	nodes map[string]AnchorNode
}

// NewAnchorSet returns an empty anchor set.
func NewAnchorSet() *AnchorSet {
	return &AnchorSet{nodes: make(map[string]AnchorNode)}
}

// Add inserts or replaces an anchor node, preserving first-insertion order.
func (s *AnchorSet) Add(id string, node AnchorNode) {
	if s.nodes == nil {
		s.nodes = make(map[string]AnchorNode)
	}
	if _, exists := s.nodes[id]; !exists {
		s.ids = append(s.ids, id)
	}
	s.nodes[id] = node
}

// Get returns the anchor node for an ID.
func (s *AnchorSet) Get(id string) (AnchorNode, bool) {
	node, ok := s.nodes[id]
	return node, ok
}

// Delete removes an anchor node.
func (s *AnchorSet) Delete(id string) {
	if _, ok := s.nodes[id]; !ok {
		return
	}
	delete(s.nodes, id)
	for i, existing := range s.ids {
		if existing == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			break
		}
	}
}

// Len returns the number of anchor nodes.
func (s *AnchorSet) Len() int {
	return len(s.ids)
}

// List returns the anchors in insertion order, shaped for the matcher.
func (s *AnchorSet) List() []Anchor {
	anchors := make([]Anchor, 0, len(s.ids))
	for _, id := range s.ids {
		node := s.nodes[id]
		anchors = append(anchors, Anchor{ID: id, Position: node.Coordinates, Alias: node.Name})
	}
	return anchors
}

// UnmarshalYAML decodes a YAML mapping while preserving document order.
func (s *AnchorSet) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("anchors must be a mapping, got %v", node.Kind)
	}
	s.ids = nil
	s.nodes = make(map[string]AnchorNode, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var id string
		if err := node.Content[i].Decode(&id); err != nil {
			return fmt.Errorf("decoding anchor ID: %w", err)
		}
		var an AnchorNode
		if err := node.Content[i+1].Decode(&an); err != nil {
			return fmt.Errorf("decoding anchor %s: %w", id, err)
		}
		s.Add(id, an)
	}
	return nil
}

// MarshalYAML encodes the set as a mapping in insertion order.
func (s *AnchorSet) MarshalYAML() (interface{}, error) {
	out := &yaml.Node{Kind: yaml.MappingNode}
	for _, id := range s.ids {
		var key, val yaml.Node
		if err := key.Encode(id); err != nil {
			return nil, err
		}
		if err := val.Encode(s.nodes[id]); err != nil {
			return nil, err
		}
		out.Content = append(out.Content, &key, &val)
	}
	return out, nil
}

// Floorplan is the persisted building model.
type Floorplan struct {
	Floors         map[string]Floor        `yaml:"floors"`
	Rooms          map[string]Room         `yaml:"rooms"`
	StaticEntities map[string]StaticEntity `yaml:"staticEntities"`
	Anchors        *AnchorSet              `yaml:"anchors"`
}

// NewFloorplan returns an empty floorplan with all sections initialized.
func NewFloorplan() *Floorplan {
	return &Floorplan{
		Floors:         make(map[string]Floor),
		Rooms:          make(map[string]Room),
		StaticEntities: make(map[string]StaticEntity),
		Anchors:        NewAnchorSet(),
	}
}

// anchorIDPattern accepts Bluetooth MAC addresses or plain slugs.
var anchorIDPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$|^[a-zA-Z0-9_-]+$`)

// FloorplanStore owns the floorplan document and its YAML persistence. All
// mutating methods save through to disk when a path is configured.
type FloorplanStore struct {
	mu   sync.RWMutex
	path string
	plan *Floorplan
}

// NewFloorplanStore creates a store without backing file (useful for tests).
func NewFloorplanStore() *FloorplanStore {
	return &FloorplanStore{plan: NewFloorplan()}
}

// LoadFloorplan reads the floorplan YAML at path. A missing file is not an
// error: an empty template is created and saved, matching first-run behavior.
func LoadFloorplan(path string) (*FloorplanStore, error) {
	store := &FloorplanStore{path: path, plan: NewFloorplan()}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("No floorplan found at %s, creating empty template", path)
			if err := store.save(); err != nil {
				return nil, err
			}
			return store, nil
		}
		return nil, fmt.Errorf("reading floorplan file: %w", err)
	}

	var plan Floorplan
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("parsing floorplan YAML: %w", err)
	}
	if plan.Floors == nil {
		plan.Floors = make(map[string]Floor)
	}
	if plan.Rooms == nil {
		plan.Rooms = make(map[string]Room)
	}
	if plan.StaticEntities == nil {
		plan.StaticEntities = make(map[string]StaticEntity)
	}
	if plan.Anchors == nil {
		plan.Anchors = NewAnchorSet()
	}
	store.plan = &plan
	log.Printf("Loaded floorplan from %s (%d floors, %d rooms, %d anchors)",
		path, len(plan.Floors), len(plan.Rooms), plan.Anchors.Len())
	return store, nil
}

// save writes the floorplan to disk. Callers must hold the lock or be the
// sole owner. A store without a path skips persistence.
func (fs *FloorplanStore) save() error {
	if fs.path == "" {
		return nil
	}
	data, err := yaml.Marshal(fs.plan)
	if err != nil {
		return fmt.Errorf("marshaling floorplan YAML: %w", err)
	}
	if err := os.WriteFile(fs.path, data, 0644); err != nil {
		return fmt.Errorf("writing floorplan file: %w", err)
	}
	return nil
}

// Save persists the current floorplan to its backing file.
func (fs *FloorplanStore) Save() error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.save()
}

// AddFloor adds or replaces a floor.
func (fs *FloorplanStore) AddFloor(id string, floor Floor) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.plan.Floors[id] = floor
	return fs.save()
}

// DeleteFloor removes a floor and every room on it.
func (fs *FloorplanStore) DeleteFloor(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.plan.Floors, id)
	for rid, room := range fs.plan.Rooms {
		if room.Floor == id {
			delete(fs.plan.Rooms, rid)
		}
	}
	return fs.save()
}

// AddRoom adds or replaces a room.
func (fs *FloorplanStore) AddRoom(id string, room Room) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.plan.Floors[room.Floor]; !ok {
		return fmt.Errorf("room %s references unknown floor %s", id, room.Floor)
	}
	fs.plan.Rooms[id] = room
	return fs.save()
}

// DeleteRoom removes a room.
func (fs *FloorplanStore) DeleteRoom(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.plan.Rooms, id)
	return fs.save()
}

// RoomsByFloor returns the rooms on a given floor.
func (fs *FloorplanStore) RoomsByFloor(floorID string) map[string]Room {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	result := make(map[string]Room)
	for id, room := range fs.plan.Rooms {
		if room.Floor == floorID {
			result[id] = room
		}
	}
	return result
}

// AddStaticEntity places a fixed entity on the floorplan.
func (fs *FloorplanStore) AddStaticEntity(id string, coords Vec3) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.plan.StaticEntities[id] = StaticEntity{Coordinates: coords}
	return fs.save()
}

// DeleteStaticEntity removes a fixed entity.
func (fs *FloorplanStore) DeleteStaticEntity(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	delete(fs.plan.StaticEntities, id)
	return fs.save()
}

// AddAnchor adds or replaces an anchor node. The ID must be a Bluetooth MAC
// address or a plain slug.
func (fs *FloorplanStore) AddAnchor(id string, node AnchorNode) error {
	if !anchorIDPattern.MatchString(id) {
		return fmt.Errorf("anchor ID %q is not a MAC address or slug", id)
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.plan.Anchors.Add(id, node)
	return fs.save()
}

// DeleteAnchor removes an anchor node.
func (fs *FloorplanStore) DeleteAnchor(id string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.plan.Anchors.Delete(id)
	return fs.save()
}

// Anchors returns the anchor list in insertion order. The slice is a copy;
// callers may hold it for the duration of one estimation cycle.
func (fs *FloorplanStore) Anchors() []Anchor {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.plan.Anchors.List()
}

// Snapshot returns a shallow copy of the floorplan document for read-only
// consumers such as HTTP handlers.
func (fs *FloorplanStore) Snapshot() Floorplan {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := Floorplan{
		Floors:         make(map[string]Floor, len(fs.plan.Floors)),
		Rooms:          make(map[string]Room, len(fs.plan.Rooms)),
		StaticEntities: make(map[string]StaticEntity, len(fs.plan.StaticEntities)),
		Anchors:        NewAnchorSet(),
	}
	for id, f := range fs.plan.Floors {
		out.Floors[id] = f
	}
	for id, r := range fs.plan.Rooms {
		out.Rooms[id] = r
	}
	for id, e := range fs.plan.StaticEntities {
		out.StaticEntities[id] = e
	}
	for _, id := range fs.plan.Anchors.ids {
		out.Anchors.Add(id, fs.plan.Anchors.nodes[id])
	}
	return out
}
