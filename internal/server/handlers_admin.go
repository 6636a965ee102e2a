package server

import (
	"net/http"

	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/storage"
)

// HandleCreateKey provisions an API key on the admin surface.
func (h *Handlers) HandleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req model.CreateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == "" || req.Email == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"name and email are required", "")
		return
	}
	if req.Plan == "" {
		req.Plan = model.PlanFree
	}
	if !model.ValidPlan(req.Plan) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"unknown plan", "expected free, professional, or enterprise")
		return
	}
	h.issueKey(w, r, req)
}

type keyListResponse struct {
	Success bool           `json:"success"`
	Keys    []model.APIKey `json:"keys"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

// HandleListKeys lists keys with optional plan and is_active filters.
func (h *Handlers) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	f := storage.ListKeysFilter{
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	if p := r.URL.Query().Get("plan"); p != "" {
		plan := model.Plan(p)
		if !model.ValidPlan(plan) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
				"unknown plan", "expected free, professional, or enterprise")
			return
		}
		f.Plan = &plan
	}
	if a := r.URL.Query().Get("is_active"); a != "" {
		active := a == "true"
		f.IsActive = &active
	}

	keys, total, err := h.db.ListAPIKeys(r.Context(), f)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if keys == nil {
		keys = []model.APIKey{}
	}
	writeJSON(w, http.StatusOK, keyListResponse{
		Success: true, Keys: keys, Total: total, Limit: f.Limit, Offset: f.Offset,
	})
}

type keyResponse struct {
	Success bool          `json:"success"`
	Key     *model.APIKey `json:"key"`
}

// HandleUpdateKey patches the mutable fields of a key.
func (h *Handlers) HandleUpdateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req model.UpdateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	key, err := h.db.UpdateAPIKey(r.Context(), id, req)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse{Success: true, Key: &key})
}

// HandleDeleteKey removes a revoked key. Deleting a live key is a 409.
func (h *Handlers) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.db.DeleteAPIKey(r.Context(), id); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleRevokeKey permanently deactivates a key.
func (h *Handlers) HandleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.db.RevokeAPIKey(r.Context(), id); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.logger.Info("api key revoked", "key_id", id,
		"admin", adminUsernameFromContext(r))
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleReactivateKey brings a revoked key back into service.
func (h *Handlers) HandleReactivateKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	if err := h.db.ReactivateAPIKey(r.Context(), id); err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	key, err := h.db.GetAPIKey(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse{Success: true, Key: &key})
}

// HandleUpgradeKey moves a key to a new plan. Usage restarts at zero.
func (h *Handlers) HandleUpgradeKey(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req model.UpgradeKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if !model.ValidPlan(req.Plan) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"unknown plan", "expected free, professional, or enterprise")
		return
	}
	key, err := h.db.ChangeKeyPlan(r.Context(), id, req.Plan)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.logger.Info("api key plan changed", "key_id", id, "plan", req.Plan)
	writeJSON(w, http.StatusOK, keyResponse{Success: true, Key: &key})
}

// HandleResetKeyQuota zeroes a key's usage counter.
func (h *Handlers) HandleResetKeyQuota(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	key, err := h.db.ResetKeyQuota(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyResponse{Success: true, Key: &key})
}

type keyStatsResponse struct {
	Success bool              `json:"success"`
	Stats   model.APIKeyStats `json:"stats"`
}

// HandleKeyStats aggregates the key population.
func (h *Handlers) HandleKeyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.KeyStats(r.Context())
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keyStatsResponse{Success: true, Stats: stats})
}

type planInfo struct {
	Plan         model.Plan `json:"plan"`
	MonthlyQuota *int       `json:"monthly_quota"`
	Unlimited    bool       `json:"unlimited"`
}

// HandleListPlans describes the available subscription tiers.
func (h *Handlers) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	plans := make([]planInfo, 0, 3)
	for _, p := range []model.Plan{model.PlanFree, model.PlanProfessional, model.PlanEnterprise} {
		q := p.MonthlyQuota()
		plans = append(plans, planInfo{Plan: p, MonthlyQuota: q, Unlimited: q == nil})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "plans": plans})
}

func adminUsernameFromContext(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return claims.Username
	}
	return ""
}
