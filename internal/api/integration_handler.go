package api

import (
	"errors"
	"net/http"

	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/secrets"
	"github.com/revittco/toolgate/internal/store"
)

type integrationHandler struct {
	registry *registry.Service
	secrets  *secrets.Manager // optional
}

// registerRequest is the POST body: the integration record plus an
// optional plaintext secret region. Secret values are sealed before the
// record is stored and never appear in any response.
type registerRequest struct {
	store.Integration
	Secrets map[string]string `json:"secrets,omitempty"`
}

// integrationResponse is the read shape: the record plus its secret key
// names. Values stay sealed.
type integrationResponse struct {
	store.Integration
	SecretKeys []string `json:"secretKeys,omitempty"`
}

func (h *integrationHandler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	integ, err := h.registry.Register(r.Context(), registry.Registration{
		Integration: req.Integration,
		Secrets:     req.Secrets,
	})
	if err != nil {
		var ve *registry.ValidationError
		if errors.As(err, &ve) {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"errors": ve.Errors,
			})
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to register integration")
		return
	}
	writeJSON(w, http.StatusCreated, h.view(integ))
}

func (h *integrationHandler) list(w http.ResponseWriter, r *http.Request) {
	all, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list integrations")
		return
	}
	out := make([]integrationResponse, 0, len(all))
	for i := range all {
		out = append(out, h.view(&all[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out, "total": len(out)})
}

func (h *integrationHandler) get(w http.ResponseWriter, r *http.Request) {
	integ, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "integration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load integration")
		return
	}
	writeJSON(w, http.StatusOK, h.view(integ))
}

func (h *integrationHandler) remove(w http.ResponseWriter, r *http.Request) {
	err := h.registry.Remove(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "integration not found")
	case registry.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "failed to remove integration")
	}
}

func (h *integrationHandler) activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *integrationHandler) deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *integrationHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	id := r.PathValue("id")
	var err error
	if active {
		err = h.registry.Activate(r.Context(), id)
	} else {
		err = h.registry.Deactivate(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "integration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to update integration")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "isActive": active})
}

func (h *integrationHandler) view(integ *store.Integration) integrationResponse {
	resp := integrationResponse{Integration: *integ}
	if h.secrets != nil && len(integ.EncryptedSecrets) > 0 {
		if keys, err := h.secrets.Keys(integ.EncryptedSecrets); err == nil {
			resp.SecretKeys = keys
		}
	}
	return resp
}
