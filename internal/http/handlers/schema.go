package handlers

import (
	"net/http"
)

type schemaResponse struct {
	Styles        []string `json:"styles"`
	Colors        []string `json:"colors"`
	OutputFormats []string `json:"output_formats"`
	ModelVersion  string   `json:"model_version,omitempty"`
}

// Schema exposes the cached model vocabulary so clients can populate their
// pickers without a provider round trip. `?refresh=1` forces a fetch.
func (a *App) Schema(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("refresh") == "1"
	schema := a.Orchestrator.Schema().Get(r.Context(), force)
	a.json(w, http.StatusOK, schemaResponse{
		Styles:        schema.Styles,
		Colors:        schema.Colors,
		OutputFormats: schema.OutputFormats,
		ModelVersion:  schema.ModelVersion,
	})
}
