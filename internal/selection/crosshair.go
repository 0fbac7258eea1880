package selection

import (
	"fmt"

	"github.com/atlasmap-sc/spotview/internal/spot"
)

// CrosshairZ lifts the crosshair above the spot plane.
const CrosshairZ = 5

// Locator resolves an index-plot position to a spot.
type Locator interface {
	FindByIndex(i int) (spot.Spot, error)
}

// State is the lock state of the crosshair.
type State int

const (
	Unlocked State = iota
	Locked
)

func (s State) String() string {
	if s == Locked {
		return "locked"
	}
	return "unlocked"
}

// Point is a position in scene coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Line is a straight segment.
type Line struct {
	From Point `json:"from"`
	To   Point `json:"to"`
}

// Pin identifies the locked spot.
type Pin struct {
	ID        string `json:"id"`
	PlotIndex int    `json:"plot_index"`
	SpotIndex int    `json:"spot_index"`
}

// Crosshair is what a renderer needs to draw the marker.
type Crosshair struct {
	State      string `json:"state"`
	Visible    bool   `json:"visible"`
	Horizontal Line   `json:"horizontal"`
	Vertical   Line   `json:"vertical"`
	Pin        *Pin   `json:"pin,omitempty"`
}

// Coordinator reconciles hover and click events from the index plot with the
// crosshair. Hover moves the crosshair only while unlocked; Select pins a
// spot until Deselect. It is not safe for concurrent use.
type Coordinator struct {
	state   State
	visible bool
	x, y    float64
	pin     *Pin
	extent  spot.Bounds
}

// NewCoordinator starts unlocked with a hidden crosshair spanning extent.
func NewCoordinator(extent spot.Bounds) *Coordinator {
	return &Coordinator{extent: extent}
}

// State returns the lock state.
func (c *Coordinator) State() State { return c.state }

// Hover moves and shows the crosshair at spot i. It is a no-op while locked.
func (c *Coordinator) Hover(loc Locator, i int) error {
	if c.state == Locked {
		return nil
	}
	s, err := loc.FindByIndex(i)
	if err != nil {
		return fmt.Errorf("hover: %w", err)
	}
	c.x, c.y = s.X, s.Y
	c.visible = true
	return nil
}

// Unhover hides the crosshair unless locked.
func (c *Coordinator) Unhover() {
	if c.state == Locked {
		return
	}
	c.visible = false
}

// Select pins spot i and locks the crosshair on it, replacing any earlier pin.
func (c *Coordinator) Select(loc Locator, i int) (Pin, error) {
	s, err := loc.FindByIndex(i)
	if err != nil {
		return Pin{}, fmt.Errorf("select: %w", err)
	}
	c.state = Locked
	c.visible = true
	c.x, c.y = s.X, s.Y
	c.pin = &Pin{ID: s.ID, PlotIndex: i, SpotIndex: s.Index}
	return *c.pin, nil
}

// Deselect unlocks, hides the crosshair and clears the pin.
func (c *Coordinator) Deselect() {
	c.state = Unlocked
	c.visible = false
	c.pin = nil
}

// Pinned returns the locked spot, if any.
func (c *Coordinator) Pinned() (Pin, bool) {
	if c.pin == nil {
		return Pin{}, false
	}
	return *c.pin, true
}

// Crosshair returns the current marker geometry.
func (c *Coordinator) Crosshair() Crosshair {
	ch := Crosshair{
		State:   c.state.String(),
		Visible: c.visible,
		Horizontal: Line{
			From: Point{X: c.extent.MinX, Y: c.y, Z: CrosshairZ},
			To:   Point{X: c.extent.MaxX, Y: c.y, Z: CrosshairZ},
		},
		Vertical: Line{
			From: Point{X: c.x, Y: c.extent.MinY, Z: CrosshairZ},
			To:   Point{X: c.x, Y: c.extent.MaxY, Z: CrosshairZ},
		},
	}
	if c.pin != nil {
		p := *c.pin
		ch.Pin = &p
	}
	return ch
}
