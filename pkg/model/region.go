package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Region is an axis-aligned, half-open hyper-rectangle [Start, Stop) over an
// N-dimensional array. Regions are treated as immutable values; NewRegion
// copies its inputs.
type Region struct {
	Start []int `json:"start"`
	Stop  []int `json:"stop"`
}

// NewRegion validates and copies start/stop into a Region.
func NewRegion(start, stop []int) (Region, error) {
	r := Region{
		Start: append([]int(nil), start...),
		Stop:  append([]int(nil), stop...),
	}
	if err := r.Validate(); err != nil {
		return Region{}, err
	}
	return r, nil
}

// FullRegion returns the region covering an array of the given extents.
func FullRegion(extents []int) Region {
	return Region{
		Start: make([]int, len(extents)),
		Stop:  append([]int(nil), extents...),
	}
}

// Validate checks that start and stop have the same non-zero rank and that
// stop[i] > start[i] on every axis.
func (r Region) Validate() error {
	if len(r.Start) == 0 {
		return fmt.Errorf("region has rank 0")
	}
	if len(r.Start) != len(r.Stop) {
		return fmt.Errorf("region rank mismatch: start has %d axes, stop has %d", len(r.Start), len(r.Stop))
	}
	for i := range r.Start {
		if r.Stop[i] <= r.Start[i] {
			return fmt.Errorf("region axis %d is empty: start=%d stop=%d", i, r.Start[i], r.Stop[i])
		}
	}
	return nil
}

// Rank returns the number of axes.
func (r Region) Rank() int { return len(r.Start) }

// Shape returns stop-start per axis.
func (r Region) Shape() []int {
	shape := make([]int, len(r.Start))
	for i := range r.Start {
		shape[i] = r.Stop[i] - r.Start[i]
	}
	return shape
}

// Size returns the number of elements in the region.
func (r Region) Size() int {
	n := 1
	for _, d := range r.Shape() {
		n *= d
	}
	return n
}

// Equal reports whether two regions have identical coordinates.
func (r Region) Equal(o Region) bool {
	if len(r.Start) != len(o.Start) || len(r.Stop) != len(o.Stop) {
		return false
	}
	for i := range r.Start {
		if r.Start[i] != o.Start[i] {
			return false
		}
	}
	for i := range r.Stop {
		if r.Stop[i] != o.Stop[i] {
			return false
		}
	}
	return true
}

// Overlaps reports whether the two regions share at least one element.
func (r Region) Overlaps(o Region) bool {
	if r.Rank() != o.Rank() {
		return false
	}
	for i := range r.Start {
		if r.Start[i] >= o.Stop[i] || o.Start[i] >= r.Stop[i] {
			return false
		}
	}
	return true
}

// Within reports whether r lies entirely inside an array of the given extents.
func (r Region) Within(extents []int) bool {
	if r.Rank() != len(extents) {
		return false
	}
	for i := range r.Start {
		if r.Start[i] < 0 || r.Stop[i] > extents[i] {
			return false
		}
	}
	return true
}

// Key returns the canonical textual form "((s0, s1), (e0, e1))". It is the
// map key for a region and is embedded in per-job file names, so it must stay
// stable across coordinator restarts.
func (r Region) Key() string {
	return "(" + tuple(r.Start) + ", " + tuple(r.Stop) + ")"
}

// String implements fmt.Stringer.
func (r Region) String() string {
	return r.Key()
}

func tuple(v []int) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.Itoa(x)
	}
	if len(parts) == 1 {
		return "(" + parts[0] + ",)"
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// regionEncodingPrefix versions the serialized form passed to workers.
const regionEncodingPrefix = "roi1."

// EncodeRegion serializes a region into a self-describing, shell-safe token
// suitable for embedding in a command line.
func EncodeRegion(r Region) (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshal region: %w", err)
	}
	return regionEncodingPrefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeRegion reverses EncodeRegion.
func DecodeRegion(s string) (Region, error) {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	payload, ok := strings.CutPrefix(s, regionEncodingPrefix)
	if !ok {
		return Region{}, fmt.Errorf("decode region: missing %q prefix", regionEncodingPrefix)
	}
	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Region{}, fmt.Errorf("decode region: %w", err)
	}
	var r Region
	if err := json.Unmarshal(data, &r); err != nil {
		return Region{}, fmt.Errorf("decode region: %w", err)
	}
	if err := r.Validate(); err != nil {
		return Region{}, fmt.Errorf("decode region: %w", err)
	}
	return r, nil
}
