package trilat

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFloorplanMissingFileCreatesTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floorplan.yml")

	store, err := LoadFloorplan(path)
	require.NoError(t, err)
	assert.Equal(t, 0, len(store.Anchors()))

	// Template must have been written to disk.
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestFloorplanRoundTripPreservesAnchorOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floorplan.yml")

	store, err := LoadFloorplan(path)
	require.NoError(t, err)

	ids := []string{"zulu_proxy", "alpha_proxy", "mike_proxy", "A4:C1:38:00:00:01"}
	for i, id := range ids {
		require.NoError(t, store.AddAnchor(id, AnchorNode{
			Coordinates: Vec3{X: float64(i), Y: 0, Z: 2},
		}))
	}

	reloaded, err := LoadFloorplan(path)
	require.NoError(t, err)

	anchors := reloaded.Anchors()
	require.Len(t, anchors, len(ids))
	for i, id := range ids {
		assert.Equal(t, id, anchors[i].ID, "anchor order must survive a save/load cycle")
	}
}

func TestFloorplanAnchorListShape(t *testing.T) {
	store := NewFloorplanStore()
	require.NoError(t, store.AddAnchor("lounge_proxy", AnchorNode{
		Coordinates: Vec3{X: 1, Y: 2, Z: 3},
		Name:        "Lounge Proxy",
	}))

	anchors := store.Anchors()
	require.Len(t, anchors, 1)
	assert.Equal(t, "lounge_proxy", anchors[0].ID)
	assert.Equal(t, "Lounge Proxy", anchors[0].Alias)
	assert.Equal(t, Vec3{X: 1, Y: 2, Z: 3}, anchors[0].Position)
}

func TestFloorplanAnchorIDValidation(t *testing.T) {
	store := NewFloorplanStore()

	assert.NoError(t, store.AddAnchor("A4:C1:38:00:00:01", AnchorNode{}))
	assert.NoError(t, store.AddAnchor("a4-c1-38-00-00-02", AnchorNode{}))
	assert.NoError(t, store.AddAnchor("lounge_proxy", AnchorNode{}))
	assert.Error(t, store.AddAnchor("has spaces", AnchorNode{}))
	assert.Error(t, store.AddAnchor("", AnchorNode{}))
}

func TestFloorplanReplaceAnchorKeepsPosition(t *testing.T) {
	store := NewFloorplanStore()
	require.NoError(t, store.AddAnchor("lounge", AnchorNode{Coordinates: Vec3{X: 1}}))
	require.NoError(t, store.AddAnchor("kitchen", AnchorNode{Coordinates: Vec3{X: 2}}))
	require.NoError(t, store.AddAnchor("lounge", AnchorNode{Coordinates: Vec3{X: 9}}))

	anchors := store.Anchors()
	require.Len(t, anchors, 2)
	// Replacing keeps the original slot.
	assert.Equal(t, "lounge", anchors[0].ID)
	assert.Equal(t, 9.0, anchors[0].Position.X)
}

func TestFloorplanDeleteFloorCascadesRooms(t *testing.T) {
	store := NewFloorplanStore()
	require.NoError(t, store.AddFloor("ground", Floor{Height: 0}))
	require.NoError(t, store.AddFloor("first", Floor{Height: 2.8}))
	require.NoError(t, store.AddRoom("lounge", Room{Floor: "ground"}))
	require.NoError(t, store.AddRoom("kitchen", Room{Floor: "ground"}))
	require.NoError(t, store.AddRoom("bedroom", Room{Floor: "first"}))

	require.NoError(t, store.DeleteFloor("ground"))

	plan := store.Snapshot()
	assert.NotContains(t, plan.Floors, "ground")
	assert.NotContains(t, plan.Rooms, "lounge")
	assert.NotContains(t, plan.Rooms, "kitchen")
	assert.Contains(t, plan.Rooms, "bedroom")
}

func TestFloorplanAddRoomRequiresFloor(t *testing.T) {
	store := NewFloorplanStore()

	err := store.AddRoom("lounge", Room{Floor: "nonexistent"})
	assert.Error(t, err)

	require.NoError(t, store.AddFloor("ground", Floor{Height: 0}))
	assert.NoError(t, store.AddRoom("lounge", Room{Floor: "ground"}))
}

func TestFloorplanRoomsByFloor(t *testing.T) {
	store := NewFloorplanStore()
	require.NoError(t, store.AddFloor("ground", Floor{}))
	require.NoError(t, store.AddFloor("first", Floor{Height: 2.8}))
	require.NoError(t, store.AddRoom("lounge", Room{Floor: "ground"}))
	require.NoError(t, store.AddRoom("bedroom", Room{Floor: "first"}))

	rooms := store.RoomsByFloor("ground")
	assert.Len(t, rooms, 1)
	assert.Contains(t, rooms, "lounge")
}

func TestFloorplanStaticEntities(t *testing.T) {
	store := NewFloorplanStore()
	require.NoError(t, store.AddStaticEntity("tv", Vec3{X: 3, Y: 1, Z: 0.5}))

	plan := store.Snapshot()
	require.Contains(t, plan.StaticEntities, "tv")
	assert.Equal(t, Vec3{X: 3, Y: 1, Z: 0.5}, plan.StaticEntities["tv"].Coordinates)

	require.NoError(t, store.DeleteStaticEntity("tv"))
	assert.NotContains(t, store.Snapshot().StaticEntities, "tv")
}

func TestLoadFloorplanExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "floorplan.yml")
	content := `floors:
  ground:
    height: 0
    name: Ground Floor
rooms:
  lounge:
    floor: ground
    boundaries:
      - [0, 0]
      - [5, 0]
      - [5, 4]
      - [0, 4]
anchors:
  lounge_proxy:
    coordinates:
      x: 1.0
      y: 2.0
      z: 2.5
    name: Lounge Proxy
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	store, err := LoadFloorplan(path)
	require.NoError(t, err)

	plan := store.Snapshot()
	assert.Equal(t, "Ground Floor", plan.Floors["ground"].Name)
	require.Contains(t, plan.Rooms, "lounge")
	assert.Len(t, plan.Rooms["lounge"].Boundaries, 4)

	anchors := store.Anchors()
	require.Len(t, anchors, 1)
	assert.Equal(t, "lounge_proxy", anchors[0].ID)
	assert.Equal(t, Vec3{X: 1, Y: 2, Z: 2.5}, anchors[0].Position)
}
