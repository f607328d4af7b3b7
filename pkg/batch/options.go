package batch

import (
	"ctroistats/pkg/rasterize"
	"ctroistats/pkg/roistats"
)

// DefaultCacheSize is the number of decoded volumes kept in memory
const DefaultCacheSize = 8

// Options holds the immutable settings of one batch run
type Options struct {
	// Regions lists the region names to analyse; empty means every region
	// of each structure set
	Regions []string

	// Aliases maps lower-cased raw region names to their normalized form
	Aliases map[string]string

	// Rasterizer controls contour filling
	Rasterizer rasterize.Options

	// ShareFactors reuses the first region's resampling factors for the
	// rest of its series
	ShareFactors bool

	// Statistics selects the optional HU statistics
	Statistics roistats.Options

	// CacheSize bounds the decoded-volume cache; zero uses DefaultCacheSize
	// and a negative value disables caching
	CacheSize int
}

// DefaultOptions returns options that analyse every region with all
// statistics enabled
func DefaultOptions() Options {
	return Options{
		Statistics: roistats.AllStatistics,
		CacheSize:  DefaultCacheSize,
	}
}
