package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/greengate-br/greengate/internal/auth"
	"github.com/greengate-br/greengate/internal/model"
	"github.com/greengate-br/greengate/internal/storage"
)

// HandleLogin authenticates the administrator and issues a bearer token.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"username and password are required", "")
		return
	}

	if !auth.VerifyAdminCredentials(req.Username, req.Password, h.adminUsername, h.adminPasswordHash) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized,
			"invalid credentials", "")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueAdminToken(req.Username)
	if err != nil {
		h.logger.Error("token issuance failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
			"internal server error", "")
		return
	}
	writeJSON(w, http.StatusOK, model.LoginResponse{
		Success:     true,
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(time.Until(expiresAt).Seconds()),
	})
}

// disposableDomains are throwaway email providers rejected at
// registration.
var disposableDomains = map[string]bool{
	"mailinator.com":    true,
	"guerrillamail.com": true,
	"10minutemail.com":  true,
	"tempmail.com":      true,
	"temp-mail.org":     true,
	"throwawaymail.com": true,
	"yopmail.com":       true,
	"trashmail.com":     true,
	"sharklasers.com":   true,
	"getnada.com":       true,
	"maildrop.cc":       true,
	"dispostable.com":   true,
}

func validEmail(email string) (domain string, ok bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return "", false
	}
	domain = strings.ToLower(email[at+1:])
	if !strings.Contains(domain, ".") {
		return "", false
	}
	return domain, true
}

// HandleRegister self-provisions a free-plan API key. One live key per
// email address; disposable email providers are refused.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"name and email are required", "")
		return
	}
	domain, ok := validEmail(req.Email)
	if !ok {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"invalid email address", "")
		return
	}
	if disposableDomains[domain] {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeBadRequest,
			"disposable email addresses are not accepted", "")
		return
	}

	count, err := h.db.CountActiveKeysByEmail(r.Context(), req.Email)
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	if count > 0 {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict,
			"email already registered",
			"an active key already exists for this address; contact support to rotate it")
		return
	}

	h.issueKey(w, r, model.CreateKeyRequest{
		Name:  req.Name,
		Email: req.Email,
		Plan:  model.PlanFree,
	})
}

// HandleLogout acknowledges a logout. Tokens are stateless, so the
// client simply discards its copy; the endpoint exists for symmetry.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "token discarded client-side; it remains valid until expiry",
	})
}

// issueKeyAttempts bounds regeneration when a freshly minted key hashes
// into an existing credential.
const issueKeyAttempts = 3

// issueKey mints and stores a key, answering with the one-time raw value.
// A hash collision regenerates the key and retries.
func (h *Handlers) issueKey(w http.ResponseWriter, r *http.Request, req model.CreateKeyRequest) {
	var (
		gen     auth.GeneratedKey
		created model.APIKey
		err     error
	)
	for attempt := 0; attempt < issueKeyAttempts; attempt++ {
		gen, err = auth.GenerateKey()
		if err != nil {
			h.logger.Error("key generation failed", "error", err)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternal,
				"internal server error", "")
			return
		}

		key := model.APIKey{
			Name:         req.Name,
			Email:        req.Email,
			KeyHash:      gen.Hash,
			KeyPrefix:    gen.Prefix,
			Plan:         req.Plan,
			MonthlyQuota: req.Plan.MonthlyQuota(),
			IsActive:     true,
			Notes:        req.Notes,
		}
		if req.ExpiresInDays != nil && *req.ExpiresInDays > 0 {
			exp := time.Now().UTC().AddDate(0, 0, *req.ExpiresInDays)
			key.ExpiresAt = &exp
		}

		created, err = h.db.CreateAPIKey(r.Context(), key)
		if errors.Is(err, storage.ErrDuplicateKeyHash) {
			continue
		}
		break
	}
	if err != nil {
		h.writeStorageError(w, r, err)
		return
	}
	h.logger.Info("api key issued",
		"key_id", created.ID,
		"prefix", created.KeyPrefix,
		"plan", created.Plan,
	)
	writeJSON(w, http.StatusCreated, model.CreatedKeyResponse{
		Success: true,
		Key:     gen.Raw,
		Details: &created,
	})
}
