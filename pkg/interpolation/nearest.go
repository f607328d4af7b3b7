// Package interpolation resamples voxel masks between grids of different
// resolution with order-0 (nearest-neighbour) interpolation.
package interpolation

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"ctroistats/internal/models"
)

// Factors is the per-axis scale (rows, cols, slices) from a source grid to a
// target grid
type Factors [3]float64

// ComputeFactors returns target/source for every axis. Empty source axes
// get a factor of 1.
func ComputeFactors(source, target models.Shape) Factors {
	ratio := func(t, s int) float64 {
		if s == 0 {
			return 1
		}
		return float64(t) / float64(s)
	}
	return Factors{
		ratio(target.Rows, source.Rows),
		ratio(target.Cols, source.Cols),
		ratio(target.Slices, source.Slices),
	}
}

// OutputShape is the shape Resample produces for a source shape and factors
func OutputShape(source models.Shape, f Factors) models.Shape {
	return models.Shape{
		Rows:   int(math.Round(float64(source.Rows) * f[0])),
		Cols:   int(math.Round(float64(source.Cols) * f[1])),
		Slices: int(math.Round(float64(source.Slices) * f[2])),
	}
}

// Resample scales a mask by the given factors. Each output voxel takes the
// value of the source voxel containing its center.
func Resample(mask *models.Mask, f Factors) *models.Mask {
	src := mask.Shape
	dst := OutputShape(src, f)
	out := models.NewMask(dst)
	if dst.Len() == 0 || src.Len() == 0 {
		return out
	}

	plane := dst.Rows * dst.Cols
	scaled := make(map[int]*image.Gray)
	for k := 0; k < dst.Slices; k++ {
		sk := int(math.Floor((float64(k) + 0.5) * float64(src.Slices) / float64(dst.Slices)))
		if sk >= src.Slices {
			sk = src.Slices - 1
		}

		img, ok := scaled[sk]
		if !ok {
			img = scalePlane(mask, sk, dst.Rows, dst.Cols)
			scaled[sk] = img
		}
		for i, v := range img.Pix[:plane] {
			out.Data[k*plane+i] = v != 0
		}
	}
	return out
}

// scalePlane resamples slice k of the mask to rows x cols
func scalePlane(mask *models.Mask, k, rows, cols int) *image.Gray {
	s := mask.Shape
	srcPlane := s.Rows * s.Cols
	srcImg := image.NewGray(image.Rect(0, 0, s.Cols, s.Rows))
	for i, v := range mask.Data[k*srcPlane : (k+1)*srcPlane] {
		if v {
			srcImg.Pix[i] = 0xff
		}
	}
	if rows == s.Rows && cols == s.Cols {
		return srcImg
	}

	dstImg := image.NewGray(image.Rect(0, 0, cols, rows))
	draw.NearestNeighbor.Scale(dstImg, dstImg.Bounds(), srcImg, srcImg.Bounds(), draw.Src, nil)
	return dstImg
}

// Aligner brings region masks onto a volume grid.
//
// By default factors are computed for every mask. With shared factors the
// first mask of a series fixes them for the rest, which is only valid when
// every region of the series was produced on the same source grid; masks
// that break that assumption fail the shape check and are skipped.
type Aligner struct {
	shareFactors bool
	shared       *Factors
}

// NewAligner creates an aligner
func NewAligner(shareFactors bool) *Aligner {
	return &Aligner{shareFactors: shareFactors}
}

// Reset forgets shared factors; call it before each new series
func (a *Aligner) Reset() {
	a.shared = nil
}

// Align resamples mask onto target. A result whose shape differs from
// target is reported as a ShapeMismatch SkipError.
func (a *Aligner) Align(mask *models.Mask, target models.Shape) (*models.Mask, error) {
	var f Factors
	switch {
	case a.shareFactors && a.shared != nil:
		f = *a.shared
	default:
		f = ComputeFactors(mask.Shape, target)
		if a.shareFactors {
			a.shared = &f
		}
	}

	if mask.Shape == target && f == (Factors{1, 1, 1}) {
		return mask, nil
	}

	if got := OutputShape(mask.Shape, f); got != target {
		return nil, models.Skipf(models.ShapeMismatch,
			"mask %dx%dx%d resampled by %v gives %dx%dx%d, volume is %dx%dx%d",
			mask.Shape.Rows, mask.Shape.Cols, mask.Shape.Slices, fmtFactors(f),
			got.Rows, got.Cols, got.Slices, target.Rows, target.Cols, target.Slices)
	}
	return Resample(mask, f), nil
}

func fmtFactors(f Factors) string {
	return fmt.Sprintf("(%.4g, %.4g, %.4g)", f[0], f[1], f[2])
}
