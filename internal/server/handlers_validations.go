package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/greengate-br/greengate/internal/geo"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/storage"
)

type validationResponse struct {
	Success bool          `json:"success"`
	Verdict model.Verdict `json:"verdict"`
	PlotID  *uuid.UUID    `json:"plot_id,omitempty"`
}

// HandleQuickValidate screens a polygon without persisting anything.
// This is the public demo endpoint; it is rate limited by IP but does
// not require a key.
func (h *Handlers) HandleQuickValidate(w http.ResponseWriter, r *http.Request) {
	var req model.ValidateRequest
	if err := decodeGeometryRequest(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	parcel, ok := parseParcel(w, r, req.Geometry)
	if !ok {
		return
	}

	verdict, err := h.screen(w, r, parcel)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, validationResponse{Success: true, Verdict: verdict})
}

// HandleValidate screens a polygon for an authenticated client. When
// property_info carries a plot name the parcel is stored as a plot and
// the verdict is persisted against it for later history queries.
func (h *Handlers) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req model.ValidateRequest
	if err := decodeGeometryRequest(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	parcel, ok := parseParcel(w, r, req.Geometry)
	if !ok {
		return
	}

	verdict, err := h.screen(w, r, parcel)
	if err != nil {
		return
	}

	var plotName string
	if req.PropertyInfo != nil {
		plotName = req.PropertyInfo.PlotName
	}

	resp := validationResponse{Success: true, Verdict: verdict}
	if plotName != "" {
		grant := GrantFromContext(r.Context())
		plot, err := h.db.CreatePlot(r.Context(), model.Plot{
			OwnerKey: grant.Key.ID,
			Name:     plotName,
			Geometry: parcel.GeoJSON(),
			AreaHa:   parcel.AreaHa(),
		})
		if err != nil {
			h.writeStorageError(w, r, err)
			return
		}
		if _, err := h.persistValidation(r, plot.ID, verdict); err != nil {
			h.writeStorageError(w, r, err)
			return
		}
		resp.PlotID = &plot.ID
	}
	writeJSON(w, http.StatusOK, resp)
}

type plotValidationResponse struct {
	Success    bool                 `json:"success"`
	Cached     bool                 `json:"cached"`
	Validation model.PlotValidation `json:"validation"`
}

// HandleValidatePlot screens a stored plot. A previous verdict that is
// still within its freshness window is returned as-is; pass force=true
// to re-screen regardless.
func (h *Handlers) HandleValidatePlot(w http.ResponseWriter, r *http.Request) {
	plotID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	grant := GrantFromContext(r.Context())
	plot, err := h.db.GetPlot(r.Context(), grant.Key.ID, plotID)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}

	if r.URL.Query().Get("force") != "true" {
		if v, err := h.db.LatestValidation(r.Context(), plot.ID); err == nil {
			writeJSON(w, http.StatusOK, plotValidationResponse{Success: true, Cached: true, Validation: v})
			return
		} else if !errors.Is(err, storage.ErrNotFound) {
			h.writeStorageError(w, r, err)
			return
		}
	}

	v, err := h.screenPlot(w, r, plot)
	if err != nil {
		return
	}
	writeJSON(w, http.StatusOK, plotValidationResponse{Success: true, Validation: v})
}

const maxBatchSize = 100

type batchResponse struct {
	Success bool                    `json:"success"`
	Results []model.BatchItemResult `json:"results"`
}

// HandleBatchValidate screens up to 100 stored plots in one request.
// Failures are reported per item; one bad plot does not abort the batch.
func (h *Handlers) HandleBatchValidate(w http.ResponseWriter, r *http.Request) {
	var req model.BatchValidateRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.PlotIDs) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"plot_ids is required", "")
		return
	}
	if len(req.PlotIDs) > maxBatchSize {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"too many plots", "a batch screens at most 100 plots")
		return
	}

	grant := GrantFromContext(r.Context())
	results := make([]model.BatchItemResult, 0, len(req.PlotIDs))
	for _, raw := range req.PlotIDs {
		item := model.BatchItemResult{PlotID: raw}
		plotID, err := uuid.Parse(raw)
		if err != nil {
			item.Error = "invalid plot id"
			results = append(results, item)
			continue
		}
		plot, err := h.db.GetPlot(r.Context(), grant.Key.ID, plotID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				item.Error = "plot not found"
			} else {
				item.Error = "screening failed"
			}
			results = append(results, item)
			continue
		}
		parcel, err := h.parsePlotGeometry(plot)
		if err != nil {
			item.Error = "stored geometry invalid"
			results = append(results, item)
			continue
		}
		verdict, err := h.engine.Screen(r.Context(), parcel)
		if err != nil {
			item.Error = "screening failed"
			results = append(results, item)
			continue
		}
		h.observeVerdict(verdict)
		if _, err := h.persistValidation(r, plot.ID, verdict); err != nil {
			item.Error = "screening failed"
			results = append(results, item)
			continue
		}
		item.Verdict = &verdict
		results = append(results, item)
	}
	writeJSON(w, http.StatusOK, batchResponse{Success: true, Results: results})
}

type historyResponse struct {
	Success     bool                   `json:"success"`
	Validations []model.PlotValidation `json:"validations"`
}

// HandleValidationHistory lists past screenings of a plot, newest first.
func (h *Handlers) HandleValidationHistory(w http.ResponseWriter, r *http.Request) {
	plotID, ok := pathUUID(w, r, "plot_id")
	if !ok {
		return
	}
	grant := GrantFromContext(r.Context())
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	history, err := h.db.ValidationHistory(r.Context(), grant.Key.ID, plotID, limit, offset)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if history == nil {
		history = []model.PlotValidation{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Success: true, Validations: history})
}

// HandleGetValidation retrieves one stored screening by id.
func (h *Handlers) HandleGetValidation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	grant := GrantFromContext(r.Context())
	v, err := h.db.GetValidation(r.Context(), grant.Key.ID, id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, plotValidationResponse{Success: true, Validation: v})
}

// screen runs the engine and records metrics, writing the error
// response itself on failure.
func (h *Handlers) screen(w http.ResponseWriter, r *http.Request, parcel *geo.Parcel) (model.Verdict, error) {
	start := time.Now()
	verdict, err := h.engine.Screen(r.Context(), parcel)
	if err != nil {
		h.logger.Error("screening failed", "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
			"screening failed", "")
		return model.Verdict{}, err
	}
	h.metrics.ScreeningDuration.Observe(time.Since(start).Seconds())
	h.observeVerdict(verdict)
	return verdict, nil
}

func (h *Handlers) observeVerdict(v model.Verdict) {
	h.metrics.ValidationsTotal.WithLabelValues(string(v.Status)).Inc()
}

// screenPlot screens a stored plot and persists the outcome.
func (h *Handlers) screenPlot(w http.ResponseWriter, r *http.Request, plot model.Plot) (model.PlotValidation, error) {
	parcel, err := h.parsePlotGeometry(plot)
	if err != nil {
		h.logger.Error("stored plot geometry invalid", "plot_id", plot.ID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
			"stored geometry invalid", "")
		return model.PlotValidation{}, err
	}
	verdict, err := h.screen(w, r, parcel)
	if err != nil {
		return model.PlotValidation{}, err
	}
	v, err := h.persistValidation(r, plot.ID, verdict)
	if err != nil {
		h.writeStorageError(w, r, err)
		return model.PlotValidation{}, err
	}
	return v, nil
}

func (h *Handlers) parsePlotGeometry(plot model.Plot) (*geo.Parcel, error) {
	return geo.Parse(plot.Geometry)
}

func (h *Handlers) persistValidation(r *http.Request, plotID uuid.UUID, verdict model.Verdict) (model.PlotValidation, error) {
	checks, err := json.Marshal(verdict.Checks)
	if err != nil {
		return model.PlotValidation{}, err
	}
	return h.db.InsertValidation(r.Context(), model.PlotValidation{
		PlotID:        plotID,
		Status:        verdict.Status,
		Score:         verdict.Score,
		Checks:        checks,
		EngineVersion: verdict.EngineVersion,
		EvaluatedAt:   verdict.EvaluatedAt,
		ExpiresAt:     verdict.EvaluatedAt.Add(h.validationExpiry),
	})
}
