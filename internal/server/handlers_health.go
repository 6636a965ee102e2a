package server

import (
	"net/http"
	"time"

	"github.com/greengate-br/greengate/internal/model"
)

// HandleRoot describes the service.
func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "not found", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":         "greengate",
		"version":         h.version,
		"engine_version":  model.EngineVersion,
		"ruleset_version": model.RulesetVersion,
		"api_prefix":      "/api/v1",
	})
}

// HandleHealth is the liveness probe.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// HandleHealthDetailed reports database, spatial extension, reference
// layer, and rate limiter state. Degraded dependencies turn the overall
// status but the endpoint itself stays 200 so dashboards can read it.
func (h *Handlers) HandleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "ok",
		"version": h.version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	}

	db := map[string]any{"status": "ok", "pool": h.db.PoolStats()}
	if err := h.db.Ping(r.Context()); err != nil {
		db["status"] = "unreachable"
		resp["status"] = "degraded"
	} else {
		if v, err := h.db.PostGISVersion(r.Context()); err == nil {
			db["postgis_version"] = v
		}
		if counts, err := h.db.LayerCounts(r.Context()); err == nil {
			db["layer_counts"] = counts
		}
	}
	resp["database"] = db

	if stats := h.limiter.Stats(); stats != nil {
		resp["rate_limiter"] = stats
	}

	writeJSON(w, http.StatusOK, resp)
}

type layerFreshness struct {
	Version     string     `json:"version"`
	RecordCount int64      `json:"record_count"`
	IngestedAt  *time.Time `json:"ingested_at,omitempty"`
	LastUpdate  *time.Time `json:"last_update,omitempty"`
}

// HandleDataFreshness reports the active version and newest ingestion
// timestamp of every reference layer.
func (h *Handlers) HandleDataFreshness(w http.ResponseWriter, r *http.Request) {
	active, err := h.versions.Active(r.Context())
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	counts, err := h.db.LayerCounts(r.Context())
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	fresh, err := h.db.LayerFreshness(r.Context())
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	layers := make(map[model.LayerType]layerFreshness, len(model.AllLayerTypes()))
	for _, layer := range model.AllLayerTypes() {
		entry := layerFreshness{
			Version:     model.LegacyDatasetVersion,
			RecordCount: counts[layer],
		}
		if v, ok := active[layer]; ok {
			entry.Version = v.Version
			ingested := v.IngestedAt
			entry.IngestedAt = &ingested
		}
		if ts, ok := fresh[layer]; ok {
			last := ts
			entry.LastUpdate = &last
		}
		layers[layer] = entry
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "layers": layers})
}
