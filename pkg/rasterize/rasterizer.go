// Package rasterize converts structure-set contour polygons into boolean
// voxel masks on a CT volume's grid.
package rasterize

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"ctroistats/internal/models"
)

// FillPolicy decides how several loops of one region on the same slice combine
type FillPolicy int

const (
	// FillUnion ORs every loop's interior into the mask. Inner loops that
	// describe holes are filled as solid; this matches how structure sets
	// have historically been rasterized by the analysis this tool replaces.
	FillUnion FillPolicy = iota

	// FillEvenOdd applies the even-odd rule across all loops of a slice so
	// a loop nested inside another cuts a hole.
	FillEvenOdd
)

func (p FillPolicy) String() string {
	switch p {
	case FillUnion:
		return "union"
	case FillEvenOdd:
		return "even-odd"
	default:
		return fmt.Sprintf("FillPolicy(%d)", int(p))
	}
}

// ParseFillPolicy parses the configuration spelling of a fill policy
func ParseFillPolicy(s string) (FillPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "union":
		return FillUnion, nil
	case "even-odd", "evenodd":
		return FillEvenOdd, nil
	default:
		return FillUnion, fmt.Errorf("unknown fill policy %q (must be union or even-odd)", s)
	}
}

// Options controls rasterization
type Options struct {
	Fill FillPolicy

	// RejectDistantLoops drops loops whose nearest slice is farther than
	// half the slice gap instead of assigning them anyway
	RejectDistantLoops bool

	// Supersample rasterizes on an in-plane grid this many times finer than
	// the volume. Values below 2 rasterize on the volume grid.
	Supersample int
}

// Rasterizer turns named regions into masks
type Rasterizer struct {
	opts Options
}

// New creates a rasterizer
func New(opts Options) *Rasterizer {
	if opts.Supersample < 1 {
		opts.Supersample = 1
	}
	return &Rasterizer{opts: opts}
}

// Grid returns the geometry masks are produced on. It equals the volume
// geometry unless supersampling is enabled, in which case rows and columns
// are multiplied and the origin moves to the first sub-voxel center.
func (r *Rasterizer) Grid(geom models.Geometry) models.Geometry {
	s := r.opts.Supersample
	if s <= 1 {
		return geom
	}
	g := geom
	g.Shape.Rows *= s
	g.Shape.Cols *= s
	g.Spacing.Row /= float64(s)
	g.Spacing.Col /= float64(s)
	shift := float64(s-1) / float64(2*s)
	g.Origin.X -= geom.Spacing.Col * shift
	g.Origin.Y -= geom.Spacing.Row * shift
	return g
}

// point is a vertex in fractional (col, row) voxel coordinates
type point struct {
	x, y float64
}

// Rasterize builds the mask for the region called name.
//
// A missing region yields an all-false mask together with a SkipError whose
// reason is RegionNotFound. Loops with non-finite points and loops dropped
// by RejectDistantLoops come back as LoopRejected warnings.
func (r *Rasterizer) Rasterize(ss *models.StructureSet, name string, geom models.Geometry) (*models.Mask, []models.Diagnostic, error) {
	grid := r.Grid(geom)
	mask := models.NewMask(grid.Shape)

	region, ok := ss.RegionByName(name)
	if !ok {
		return mask, nil, models.Skipf(models.RegionNotFound, "structure set %s has no region %q", ss.Path, name)
	}
	if grid.Shape.Len() == 0 || len(grid.ZPositions) == 0 {
		return mask, nil, nil
	}

	var diags []models.Diagnostic
	bySlice := make(map[int][][]point)
	for i, loop := range region.Loops {
		if len(loop.Points) == 0 {
			continue
		}
		if !finite(loop) {
			diags = append(diags, models.Diagnostic{
				Kind:     models.LoopRejected,
				Severity: models.Warning,
				Region:   name,
				Message:  fmt.Sprintf("loop %d has non-finite coordinates", i),
			})
			continue
		}
		k, dist := NearestSlice(grid.ZPositions, loop.Z())
		if r.opts.RejectDistantLoops && dist > grid.Spacing.Slice/2 {
			diags = append(diags, models.Diagnostic{
				Kind:     models.LoopRejected,
				Severity: models.Warning,
				Region:   name,
				Message: fmt.Sprintf("loop %d at z=%g is %g mm from the nearest slice (gap %g mm)",
					i, loop.Z(), dist, grid.Spacing.Slice),
			})
			continue
		}
		bySlice[k] = append(bySlice[k], toVoxel(loop, grid))
	}

	slices := make([]int, 0, len(bySlice))
	for k := range bySlice {
		slices = append(slices, k)
	}
	sort.Ints(slices)

	plane := grid.Shape.Rows * grid.Shape.Cols
	for _, k := range slices {
		dst := mask.Data[k*plane : (k+1)*plane]
		loops := bySlice[k]
		switch r.opts.Fill {
		case FillEvenOdd:
			// One scanline pass over every edge of the slice gives even-odd
			// parity across loops.
			fillPolygons(dst, grid.Shape.Rows, grid.Shape.Cols, loops)
		default:
			for _, loop := range loops {
				fillPolygons(dst, grid.Shape.Rows, grid.Shape.Cols, [][]point{loop})
			}
		}
	}

	return mask, diags, nil
}

// NearestSlice returns the index of the z position closest to z and the
// absolute distance to it. zs must be sorted ascending. Ties go to the
// lower index.
func NearestSlice(zs []float64, z float64) (int, float64) {
	i := sort.SearchFloat64s(zs, z)
	switch {
	case i == 0:
		return 0, math.Abs(zs[0] - z)
	case i == len(zs):
		return len(zs) - 1, math.Abs(zs[len(zs)-1] - z)
	}
	below, above := math.Abs(z-zs[i-1]), math.Abs(zs[i]-z)
	if below <= above {
		return i - 1, below
	}
	return i, above
}

func finite(loop models.ContourLoop) bool {
	for _, p := range loop.Points {
		for _, v := range [3]float64{p.X, p.Y, p.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

func toVoxel(loop models.ContourLoop, grid models.Geometry) []point {
	pts := make([]point, len(loop.Points))
	for i, p := range loop.Points {
		pts[i] = point{
			x: (p.X - grid.Origin.X) / grid.Spacing.Col,
			y: (p.Y - grid.Origin.Y) / grid.Spacing.Row,
		}
	}
	return pts
}

// fillPolygons sets every voxel whose center lies inside the polygons by the
// even-odd rule. Edges are half-open in y and spans half-open in x, so a
// rectangle whose sides lie on voxel boundaries fills exactly its area.
func fillPolygons(dst []bool, rows, cols int, polys [][]point) {
	minY, maxY := math.Inf(1), math.Inf(-1)
	for _, poly := range polys {
		for _, p := range poly {
			if math.IsNaN(p.y) || math.IsInf(p.y, 0) {
				continue
			}
			minY = math.Min(minY, p.y)
			maxY = math.Max(maxY, p.y)
		}
	}
	if math.IsInf(minY, 0) || math.IsInf(maxY, 0) {
		return
	}

	r0 := int(math.Max(0, math.Ceil(minY)))
	r1 := int(math.Min(float64(rows-1), math.Floor(maxY)))

	xs := make([]float64, 0, 8)
	for row := r0; row <= r1; row++ {
		y := float64(row)
		xs = xs[:0]
		for _, poly := range polys {
			n := len(poly)
			for i := 0; i < n; i++ {
				a, b := poly[i], poly[(i+1)%n]
				if (a.y <= y && b.y > y) || (b.y <= y && a.y > y) {
					x := a.x + (y-a.y)*(b.x-a.x)/(b.y-a.y)
					if math.IsNaN(x) {
						continue
					}
					xs = append(xs, math.Max(0, math.Min(float64(cols), x)))
				}
			}
		}
		sort.Float64s(xs)

		base := row * cols
		for i := 0; i+1 < len(xs); i += 2 {
			c0 := int(math.Ceil(xs[i]))
			c1 := int(math.Ceil(xs[i+1]))
			for c := c0; c < c1; c++ {
				dst[base+c] = true
			}
		}
	}
}
