package router

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	httpmiddleware "github.com/wolfman30/scheduling-integrator/internal/http/middleware"
	"github.com/wolfman30/scheduling-integrator/internal/integrator"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

type handler struct {
	integrations integrator.Source
	ops          Operations
	logger       *logging.Logger
}

type integrationSummary struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Version  int    `json:"version"`
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) listIntegrations(w http.ResponseWriter, r *http.Request) {
	list, err := h.integrations.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]integrationSummary, 0, len(list))
	for _, i := range list {
		out = append(out, integrationSummary{ID: i.ID, Name: i.Name, Provider: i.Provider, Version: i.Version})
	}
	writeJSON(w, http.StatusOK, out)
}

// status answers 503 when the upstream probe fails.
func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	integration, err := h.integrations.Get(r.Context(), chi.URLParam(r, "integrationID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	status := h.ops.GetStatus(r.Context(), integration)
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *handler) syncEntities(w http.ResponseWriter, r *http.Request) {
	integration, err := h.integrations.Get(r.Context(), chi.URLParam(r, "integrationID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	entityType, err := scheduling.ParseEntityType(chi.URLParam(r, "entityType"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	operator, _ := httpmiddleware.OperatorFromContext(r.Context())
	result, err := h.ops.SyncEntities(r.Context(), integration, entityType)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.Info("entities synced",
		"integration_id", integration.ID,
		"entity_type", entityType,
		"upserted", result.Upserted,
		"deactivated", result.Deactivated,
		"operator", operator,
	)
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var typed *scheduling.Error
	if errors.As(err, &typed) {
		status = typed.HTTPStatus()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  string(scheduling.KindOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
