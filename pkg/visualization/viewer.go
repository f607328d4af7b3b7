// Package visualization renders QA overlays of region masks on CT slices.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"os"
	"path/filepath"
	"strings"

	"ctroistats/internal/models"
)

// Window maps HU values to display gray levels
type Window struct {
	Center float64
	Width  float64
}

// SoftTissue is the usual abdominal soft-tissue window
var SoftTissue = Window{Center: 40, Width: 400}

// Gray maps a HU value into [0, 255]
func (w Window) Gray(hu float64) uint8 {
	width := w.Width
	if width <= 0 {
		width = 1
	}
	lo := w.Center - width/2
	v := (hu - lo) / width
	return uint8(math.Round(math.Max(0, math.Min(1, v)) * 255))
}

// Viewer extracts windowed slices from a HU volume
type Viewer struct {
	volume *models.Volume
	window Window
}

// NewViewer creates a viewer over vol
func NewViewer(vol *models.Volume, window Window) *Viewer {
	return &Viewer{
		volume: vol,
		window: window,
	}
}

// plane returns the image size for a slice along axis and a function
// mapping image pixel (x, y) to voxel (r, c, k)
func (v *Viewer) plane(axis string, position int) (int, int, func(x, y int) (int, int, int), error) {
	if position < 0 {
		return 0, 0, nil, fmt.Errorf("position must be non-negative")
	}
	s := v.volume.Shape

	switch axis {
	case "x", "X":
		// sagittal: one column, image is slices x rows
		if position >= s.Cols {
			return 0, 0, nil, fmt.Errorf("position %d exceeds width %d", position, s.Cols)
		}
		return s.Slices, s.Rows, func(x, y int) (int, int, int) { return y, position, x }, nil

	case "y", "Y":
		// coronal: one row, image is cols x slices
		if position >= s.Rows {
			return 0, 0, nil, fmt.Errorf("position %d exceeds height %d", position, s.Rows)
		}
		return s.Cols, s.Slices, func(x, y int) (int, int, int) { return position, x, y }, nil

	case "z", "Z":
		if position >= s.Slices {
			return 0, 0, nil, fmt.Errorf("position %d exceeds depth %d", position, s.Slices)
		}
		return s.Cols, s.Rows, func(x, y int) (int, int, int) { return y, x, position }, nil

	default:
		return 0, 0, nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// ExtractSlice extracts a windowed 2D slice along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	w, h, voxel, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: v.window.Gray(v.volume.At(voxel(x, y)))})
		}
	}
	return img, nil
}

// Overlay extracts a slice and tints the voxels set in mask red
func (v *Viewer) Overlay(mask *models.Mask, axis string, position int) (*image.RGBA, error) {
	if mask.Shape != v.volume.Shape {
		return nil, fmt.Errorf("mask shape %v does not match volume shape %v", mask.Shape, v.volume.Shape)
	}
	w, h, voxel, err := v.plane(axis, position)
	if err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, c, k := voxel(x, y)
			g := v.window.Gray(v.volume.At(r, c, k))
			if mask.Get(r, c, k) {
				img.SetRGBA(x, y, color.RGBA{R: 255, G: g / 2, B: g / 2, A: 255})
			} else {
				img.SetRGBA(x, y, color.RGBA{R: g, G: g, B: g, A: 255})
			}
		}
	}
	return img, nil
}

// SaveSlice saves an image as a JPEG
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Shape.Cols
	case "y", "Y":
		maxPos = v.volume.Shape.Rows
	case "z", "Z":
		maxPos = v.volume.Shape.Slices
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}

// DensestSlice returns the axial slice holding the most mask voxels, the
// lowest index on ties
func DensestSlice(mask *models.Mask) int {
	best, bestCount := 0, -1
	for k := 0; k < mask.Shape.Slices; k++ {
		if n := mask.SliceCount(k); n > bestCount {
			best, bestCount = k, n
		}
	}
	return best
}

// Snapshotter writes one axial overlay per emitted record into a directory.
// With series dumping enabled it also saves the full windowed axial series
// of every volume it sees, once per patient and series.
type Snapshotter struct {
	dir    string
	window Window

	series bool
	dumped map[string]bool
}

// NewSnapshotter creates the output directory and returns a snapshotter
func NewSnapshotter(dir string, window Window) (*Snapshotter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create overlay directory: %w", err)
	}
	return &Snapshotter{dir: dir, window: window, dumped: make(map[string]bool)}, nil
}

// DumpSeries enables or disables saving the full axial series of each volume
func (s *Snapshotter) DumpSeries(enabled bool) {
	s.series = enabled
}

// Snapshot saves the densest axial slice of mask over vol
func (s *Snapshotter) Snapshot(vol *models.Volume, mask *models.Mask, rec *models.StatsRecord) error {
	k := DensestSlice(mask)
	viewer := NewViewer(vol, s.window)

	if s.series {
		dir := SeriesDir(rec)
		if !s.dumped[dir] {
			if err := viewer.SaveSliceSequence("z", filepath.Join(s.dir, dir)); err != nil {
				return fmt.Errorf("failed to save series %s: %w", dir, err)
			}
			s.dumped[dir] = true
		}
	}

	img, err := viewer.Overlay(mask, "z", k)
	if err != nil {
		return err
	}
	return viewer.SaveSlice(img, filepath.Join(s.dir, OverlayName(rec, k)))
}

// OverlayName returns the file name of the overlay for a record on slice k
func OverlayName(rec *models.StatsRecord, k int) string {
	return fmt.Sprintf("%s_%s_%s_z%03d.jpg", safeName(rec.PatientID), safeName(rec.SeriesUID), safeName(rec.Region), k)
}

// SeriesDir returns the directory name of the axial series dump for a record
func SeriesDir(rec *models.StatsRecord) string {
	return fmt.Sprintf("%s_%s", safeName(rec.PatientID), safeName(rec.SeriesUID))
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(s))
	if s == "" {
		return "unnamed"
	}
	return s
}
