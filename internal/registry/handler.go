package registry

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type Handler struct {
	catalog *Catalog
	log     *slog.Logger
}

func NewHandler(catalog *Catalog, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{catalog: catalog, log: log}
}

// GET /api/tools
func (h *Handler) ListTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{"tools": h.catalog.List()})
}
