package dicomio

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"ctroistats/internal/models"
)

// Fixed layout used when content inspection finds no CT images:
// <root>/<patient>/CT/* and <root>/<patient>/RTSTRUCT.dcm
const (
	fallbackCTDir         = "CT"
	fallbackStructureFile = "RTSTRUCT.dcm"
)

// Scanner discovers CT series and structure sets under an input root
type Scanner struct {
	root   string
	reader *Reader
	logger *log.Logger

	// NamingFallback enables the fixed-layout fallback
	NamingFallback bool
}

// NewScanner creates a scanner for root. A nil logger discards output.
func NewScanner(root string, reader *Reader, logger *log.Logger) *Scanner {
	if reader == nil {
		reader = NewReader()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Scanner{root: root, reader: reader, logger: logger, NamingFallback: true}
}

// Discover walks the root and classifies every file by its Modality.
//
// CT images are grouped by SeriesInstanceUID with paths sorted; RTSTRUCT
// documents are fully decoded. Other modalities and files that are not
// DICOM are ignored. Only an unreadable root or a cancelled context is an
// error; everything else is reported in the inventory diagnostics.
func (s *Scanner) Discover(ctx context.Context) (*models.Inventory, error) {
	if _, err := os.Stat(s.root); err != nil {
		return nil, fmt.Errorf("input root: %w", err)
	}

	inv := &models.Inventory{}
	groups := make(map[string]*models.SeriesGroup)

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return s.walkError(inv, path, d, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
		if err != nil {
			s.logger.Printf("skipping %s: %v", path, err)
			return nil
		}

		modality, _ := stringValue(ds.Elements, tag.Modality)
		switch strings.ToUpper(modality) {
		case "CT":
			uid, _ := stringValue(ds.Elements, tag.SeriesInstanceUID)
			if uid == "" {
				inv.Diagnostics = append(inv.Diagnostics, models.Diagnostic{
					Kind:     models.IntegrityWarning,
					Severity: models.Skip,
					Message:  fmt.Sprintf("CT image %s has no SeriesInstanceUID", path),
				})
				return nil
			}
			g, ok := groups[uid]
			if !ok {
				g = &models.SeriesGroup{SeriesUID: uid}
				g.PatientID, _ = stringValue(ds.Elements, tag.PatientID)
				groups[uid] = g
			}
			g.Paths = append(g.Paths, path)

		case "RTSTRUCT":
			ss, err := structureSetFromDataset(ds.Elements, path)
			if err != nil {
				inv.Diagnostics = append(inv.Diagnostics, malformed(path, err))
				return nil
			}
			inv.StructureSets = append(inv.StructureSets, ss)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", s.root, err)
	}

	inv.Series = sortedGroups(groups)

	if len(inv.Series) == 0 && s.NamingFallback {
		fallback, err := s.discoverLayout(ctx)
		if err != nil {
			return nil, err
		}
		if len(fallback.Series) > 0 {
			s.logger.Printf("no CT images found by content, using %s/<patient>/%s layout", s.root, fallbackCTDir)
			fallback.Diagnostics = append(inv.Diagnostics, fallback.Diagnostics...)
			return fallback, nil
		}
	}

	return inv, nil
}

// walkError keeps the walk going past unreadable entries below the root.
// The entry is recorded in the inventory diagnostics and an unreadable
// directory is skipped.
func (s *Scanner) walkError(inv *models.Inventory, path string, d fs.DirEntry, err error) error {
	if path == s.root {
		return err
	}
	s.logger.Printf("skipping %s: %v", path, err)
	inv.Diagnostics = append(inv.Diagnostics, models.Diagnostic{
		Kind:     models.IntegrityWarning,
		Severity: models.Warning,
		Message:  fmt.Sprintf("cannot read %s: %v", path, err),
	})
	if d != nil && d.IsDir() {
		return fs.SkipDir
	}
	return nil
}

// discoverLayout applies the fixed directory layout. Every patient
// directory becomes one series keyed by its name and the structure set
// found next to it is bound to that key.
func (s *Scanner) discoverLayout(ctx context.Context) (*models.Inventory, error) {
	inv := &models.Inventory{}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.root, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() {
			continue
		}
		patient := entry.Name()
		dir := filepath.Join(s.root, patient)

		files, err := os.ReadDir(filepath.Join(dir, fallbackCTDir))
		if err != nil {
			continue
		}
		group := models.SeriesGroup{SeriesUID: patient, PatientID: patient}
		for _, f := range files {
			if !f.IsDir() {
				group.Paths = append(group.Paths, filepath.Join(dir, fallbackCTDir, f.Name()))
			}
		}
		if len(group.Paths) == 0 {
			continue
		}
		sort.Strings(group.Paths)
		inv.Series = append(inv.Series, group)

		rsPath := filepath.Join(dir, fallbackStructureFile)
		if _, err := os.Stat(rsPath); err != nil {
			continue
		}
		ss, err := s.reader.ReadStructureSet(rsPath)
		if err != nil {
			inv.Diagnostics = append(inv.Diagnostics, malformed(rsPath, err))
			continue
		}
		if ss.PatientID == "" {
			ss.PatientID = patient
		}
		ss.References = []models.FrameOfReferenceRef{{
			Studies: []models.StudyRef{{Series: []models.SeriesRef{{SeriesUID: patient}}}},
		}}
		inv.StructureSets = append(inv.StructureSets, ss)
	}

	return inv, nil
}

func sortedGroups(groups map[string]*models.SeriesGroup) []models.SeriesGroup {
	out := make([]models.SeriesGroup, 0, len(groups))
	for _, g := range groups {
		sort.Strings(g.Paths)
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].SeriesUID < out[j].SeriesUID
	})
	return out
}

func malformed(path string, err error) models.Diagnostic {
	return models.Diagnostic{
		Kind:     models.MalformedDocument,
		Severity: models.Skip,
		Message:  fmt.Sprintf("structure set %s: %v", path, err),
	}
}
