package handler

import (
	"net/http"

	"github.com/optimap/optimap/internal/api/models"
	"github.com/optimap/optimap/internal/api/response"
	"github.com/optimap/optimap/internal/geocache"
)

// CacheStatsSource exposes geocoding cache counters. Satisfied by
// *geocode.Resolver.
type CacheStatsSource interface {
	CacheStats() (geocache.Stats, bool)
}

// GeocodingHandler handles geocoding operational endpoints.
type GeocodingHandler struct {
	stats CacheStatsSource
}

// NewGeocodingHandler creates a new GeocodingHandler. The source may be
// nil when geocoding is not configured.
func NewGeocodingHandler(stats CacheStatsSource) *GeocodingHandler {
	return &GeocodingHandler{stats: stats}
}

// CacheStats handles GET /v1/geocoding/cache/stats.
func (h *GeocodingHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	var body models.GeocodeCacheStats
	if h.stats != nil {
		if stats, ok := h.stats.CacheStats(); ok {
			body = models.GeocodeCacheStats{
				Enabled:        true,
				Size:           stats.Size,
				MaxEntries:     stats.MaxEntries,
				Hits:           stats.Hits,
				Misses:         stats.Misses,
				HitRatePercent: stats.HitRatePercent,
				TotalRequests:  stats.TotalRequests,
				TTLDays:        stats.TTLDays,
			}
		}
	}
	response.JSON(w, r, http.StatusOK, body)
}
