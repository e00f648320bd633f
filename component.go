package hmibox

import (
	"time"
)

// Position of a component on the view, in view coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size of a component in view coordinates.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Meta carries the generation bookkeeping for a component. Timestamp is
// ISO-8601, captured when the component is built.
type Meta struct {
	Name      string `json:"name"`
	Generated bool   `json:"generated"`
	Timestamp string `json:"timestamp"`
}

// Component is a Perspective component descriptor. It is a plain value: built
// once, returned to the caller, never tracked or mutated afterwards. The JSON
// form is what the authoring tool imports.
type Component struct {
	Type     string         `json:"type"`
	Position Position       `json:"position"`
	Size     Size           `json:"size"`
	Props    map[string]any `json:"props"`
	Meta     Meta           `json:"meta"`
}

// ComponentOptions are the optional knobs for BuildComponent. Zero-value
// fields fall back to the documented defaults. Props is a free-form bag for
// widget-specific properties and is passed through without validation.
type ComponentOptions struct {
	Name     string
	Position *Position
	Size     *Size
	Props    map[string]any
}

// Defaults matching the authoring tool's drop-on-view behavior.
var (
	defaultPosition = Position{X: 0, Y: 0}
	defaultSize     = Size{Width: 100, Height: 50}
)

// BuildComponent builds a component descriptor of the given kind. The kind is
// an arbitrary non-empty string (e.g. "display", "gauge") and is embedded
// verbatim into the type field as "perspective.<kind>" without being checked
// against any widget enumeration.
//
// Every call returns a freshly allocated descriptor (the props map is copied)
// with a new timestamp, so successive calls never alias each other.
func BuildComponent(kind string, opts *ComponentOptions) Component {
	if opts == nil {
		opts = &ComponentOptions{}
	}

	name := opts.Name
	if name == "" {
		name = kind + "_component"
	}

	position := defaultPosition
	if opts.Position != nil {
		position = *opts.Position
	}

	size := defaultSize
	if opts.Size != nil {
		size = *opts.Size
	}

	props := make(map[string]any, len(opts.Props))
	for k, v := range opts.Props {
		props[k] = v
	}

	return Component{
		Type:     "perspective." + kind,
		Position: position,
		Size:     size,
		Props:    props,
		Meta: Meta{
			Name:      name,
			Generated: true,
			Timestamp: time.Now().Format(time.RFC3339Nano),
		},
	}
}
