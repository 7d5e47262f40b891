// Package partition divides an N-dimensional array into a near-cubical grid
// of non-overlapping regions.
package partition

import (
	"fmt"
	"math"

	"github.com/me/clusterize/pkg/model"
)

// Partition splits shape into roughly jobs regions. Only axes whose label is in
// splittable and whose extent exceeds one are divided; every other axis is kept
// whole. Each splittable axis is cut into blocks of extent/k elements, where
// k = round(jobs^(1/S)) and S is the number of splittable axes. The final block
// along an axis is clipped to the array bounds and may be smaller than the
// rest, so the region count can differ from jobs. The result is deterministic
// and ordered with the last axis varying fastest.
func Partition(shape model.Shape, jobs int, splittable string) []model.Region {
	extents := shape.Extents()
	if len(extents) == 0 {
		return nil
	}

	var split []int
	for i := range shape {
		if shape.IsSplittable(i, splittable) {
			split = append(split, i)
		}
	}
	if jobs <= 0 || len(split) == 0 {
		return []model.Region{model.FullRegion(extents)}
	}

	k := int(math.Round(math.Pow(float64(jobs), 1.0/float64(len(split)))))
	if k < 1 {
		k = 1
	}

	block := append([]int(nil), extents...)
	for _, i := range split {
		block[i] = max(extents[i]/k, 1)
	}

	// Block start offsets per axis.
	starts := make([][]int, len(extents))
	for i, ext := range extents {
		for s := 0; s < ext; s += block[i] {
			starts[i] = append(starts[i], s)
		}
	}

	var regions []model.Region
	idx := make([]int, len(extents))
	for {
		start := make([]int, len(extents))
		stop := make([]int, len(extents))
		for i := range extents {
			start[i] = starts[i][idx[i]]
			stop[i] = min(start[i]+block[i], extents[i])
		}
		regions = append(regions, model.Region{Start: start, Stop: stop})

		// Odometer increment, last axis fastest.
		axis := len(extents) - 1
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < len(starts[axis]) {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			break
		}
	}
	return regions
}

// Validate checks that regions are well formed, pairwise disjoint and that
// together they cover exactly the array of the given extents.
func Validate(regions []model.Region, extents []int) error {
	total := 1
	for _, e := range extents {
		total *= e
	}

	covered := 0
	for i, r := range regions {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("region %d: %w", i, err)
		}
		if !r.Within(extents) {
			return fmt.Errorf("region %d %s lies outside %v", i, r, extents)
		}
		covered += r.Size()
	}
	for i := range regions {
		for j := i + 1; j < len(regions); j++ {
			if regions[i].Overlaps(regions[j]) {
				return fmt.Errorf("regions %d %s and %d %s overlap", i, regions[i], j, regions[j])
			}
		}
	}
	// Disjoint regions inside the bounds whose sizes add up to the total must
	// tile the whole array.
	if covered != total {
		return fmt.Errorf("regions cover %d of %d elements", covered, total)
	}
	return nil
}
