package layers

import (
	"errors"
	"fmt"
)

// Common errors returned by layer operations.
var (
	// ErrInvalidLayer is returned when a layer value is outside the
	// seven-layer hierarchy.
	ErrInvalidLayer = errors.New("layers: invalid layer")

	// ErrInvalidPriority is returned when a priority value is outside
	// the four defined levels.
	ErrInvalidPriority = errors.New("layers: invalid priority")

	// ErrNotFound is returned when a context entry does not exist.
	ErrNotFound = errors.New("layers: context not found")

	// ErrNoValidContexts is returned when a merge resolves none of its
	// input ids.
	ErrNoValidContexts = errors.New("layers: no valid contexts found for merging")
)

// Layer identifies one of the seven ordered context scopes. Lower
// numbers are more time-critical and are satisfied first during
// retrieval, so the immediate layer always gets first claim on a shared
// token budget.
type Layer int

const (
	// LayerImmediate holds the current conversation or task context.
	LayerImmediate Layer = 1

	// LayerSession holds current-session context.
	LayerSession Layer = 2

	// LayerProject holds project-level context.
	LayerProject Layer = 3

	// LayerDomain holds domain knowledge.
	LayerDomain Layer = 4

	// LayerHistorical holds historical patterns and learnings.
	LayerHistorical Layer = 5

	// LayerGlobal holds global knowledge and patterns.
	LayerGlobal Layer = 6

	// LayerMeta holds meta-cognitive and reasoning context.
	LayerMeta Layer = 7
)

// NumLayers is the size of the layer hierarchy. The coherence score of a
// retrieval result is the fraction of these layers that contributed
// content.
const NumLayers = 7

var layerNames = map[Layer]string{
	LayerImmediate:  "IMMEDIATE",
	LayerSession:    "SESSION",
	LayerProject:    "PROJECT",
	LayerDomain:     "DOMAIN",
	LayerHistorical: "HISTORICAL",
	LayerGlobal:     "GLOBAL",
	LayerMeta:       "META",
}

// Relative weights used conceptually for layer ordering during
// retrieval: the immediate layer is weighted highest.
var layerWeights = map[Layer]float64{
	LayerImmediate:  1.0,
	LayerSession:    0.8,
	LayerProject:    0.6,
	LayerDomain:     0.5,
	LayerHistorical: 0.4,
	LayerGlobal:     0.3,
	LayerMeta:       0.2,
}

// AllLayers returns the seven layers in ascending order, which is also
// retrieval order.
func AllLayers() []Layer {
	return []Layer{
		LayerImmediate,
		LayerSession,
		LayerProject,
		LayerDomain,
		LayerHistorical,
		LayerGlobal,
		LayerMeta,
	}
}

// String returns the layer's name (e.g., "IMMEDIATE").
// This implements the fmt.Stringer interface.
func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LAYER(%d)", int(l))
}

// Weight returns the layer's fixed relative weight.
func (l Layer) Weight() float64 {
	return layerWeights[l]
}

// IsValid returns true if the Layer is one of the seven defined values.
func (l Layer) IsValid() bool {
	return l >= LayerImmediate && l <= LayerMeta
}

// Validate returns ErrInvalidLayer if the Layer is not valid.
func (l Layer) Validate() error {
	if !l.IsValid() {
		return fmt.Errorf("%w: %d (must be 1-7)", ErrInvalidLayer, int(l))
	}
	return nil
}

// ParseLayer converts a layer name to its Layer value.
func ParseLayer(name string) (Layer, error) {
	for l, n := range layerNames {
		if n == name {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLayer, name)
}

// Priority is the four-level importance tag attached to a context
// entry, independent of its layer.
type Priority int

const (
	// PriorityCritical marks must-keep context.
	PriorityCritical Priority = 1

	// PriorityHigh marks important context; merged entries are created
	// at this level.
	PriorityHigh Priority = 2

	// PriorityMedium is the default for new entries.
	PriorityMedium Priority = 3

	// PriorityLow marks context that can be dropped first.
	PriorityLow Priority = 4
)

var priorityNames = map[Priority]string{
	PriorityCritical: "CRITICAL",
	PriorityHigh:     "HIGH",
	PriorityMedium:   "MEDIUM",
	PriorityLow:      "LOW",
}

// String returns the priority's name (e.g., "HIGH").
// This implements the fmt.Stringer interface.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PRIORITY(%d)", int(p))
}

// IsValid returns true if the Priority is one of the four defined values.
func (p Priority) IsValid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// Validate returns ErrInvalidPriority if the Priority is not valid.
func (p Priority) Validate() error {
	if !p.IsValid() {
		return fmt.Errorf("%w: %d (must be 1-4)", ErrInvalidPriority, int(p))
	}
	return nil
}
