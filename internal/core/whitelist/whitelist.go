package whitelist

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Structural filter keys accepted independently of the amenity allow-list.
const (
	KeyQuery    = "query"
	KeyMinPrice = "min_price"
	KeyMaxPrice = "max_price"
)

// amenityKeyPrefix marks filter keys derived from an amenity toggle.
const amenityKeyPrefix = "amenity:"

// defaultAmenities is the compiled-in allow-list. The set is deliberately
// closed: every label that can reach storage must appear here or in the
// optional YAML extension file, which bounds the cardinality of the derived
// usage maps.
var defaultAmenities = []string{
	"WiFi",
	"Parking",
	"Kitchen",
	"Washer",
	"Dryer",
	"AirConditioning",
	"Heating",
	"Balcony",
	"Elevator",
	"PetsAllowed",
	"Furnished",
	"Dishwasher",
	"Gym",
	"Pool",
}

// Whitelist is the closed set of allowed amenity labels plus the fixed
// structural filter keys. Immutable after construction.
type Whitelist struct {
	amenities map[string]struct{}
}

// onDiskShape is the YAML extension file format: a single top-level
// "amenities" list, one label per entry.
type onDiskShape struct {
	Amenities []string `yaml:"amenities"`
}

// Default returns the whitelist built from the compiled-in amenity set.
func Default() *Whitelist {
	return newWhitelist(defaultAmenities)
}

// Load builds the whitelist from the compiled-in set extended by the YAML
// file at path. An empty path returns Default(). A missing file is an error:
// a configured-but-absent allow-list silently shrinking the set is the kind
// of misconfiguration that should fail startup.
func Load(path string) (*Whitelist, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading amenity whitelist %s: %w", path, err)
	}

	var raw onDiskShape
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing amenity whitelist %s: %w", path, err)
	}

	labels := append([]string{}, defaultAmenities...)
	for _, label := range raw.Amenities {
		label = strings.TrimSpace(label)
		if label == "" {
			return nil, fmt.Errorf("amenity whitelist %s: empty label", path)
		}
		labels = append(labels, label)
	}

	return newWhitelist(labels), nil
}

func newWhitelist(labels []string) *Whitelist {
	w := &Whitelist{amenities: make(map[string]struct{}, len(labels))}
	for _, label := range labels {
		w.amenities[label] = struct{}{}
	}
	return w
}

// AllowsAmenity reports whether label is on the closed amenity set.
func (w *Whitelist) AllowsAmenity(label string) bool {
	_, ok := w.amenities[label]
	return ok
}

// FilterAmenities returns the subset of labels on the allow-list, preserving
// input order and dropping duplicates.
func (w *Whitelist) FilterAmenities(labels []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		if _, ok := w.amenities[label]; !ok {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

// FilterKeys returns the subset of filter keys that may reach storage: the
// three structural keys, and "amenity:<label>" for whitelisted labels.
// Everything else is discarded here, never downstream.
func (w *Whitelist) FilterKeys(keys []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if !w.allowsKey(key) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func (w *Whitelist) allowsKey(key string) bool {
	switch key {
	case KeyQuery, KeyMinPrice, KeyMaxPrice:
		return true
	}
	if label, ok := strings.CutPrefix(key, amenityKeyPrefix); ok {
		return w.AllowsAmenity(label)
	}
	return false
}

// AmenityKey derives the filter-usage key for an amenity label.
func AmenityKey(label string) string {
	return amenityKeyPrefix + label
}

// Size returns the number of allowed amenity labels.
func (w *Whitelist) Size() int {
	return len(w.amenities)
}
