package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"staysync/internal/app"
	"staysync/internal/domain"
)

type Handlers struct {
	Q *app.QueryService
	R *app.Resolver
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/batches/{batchID}/conflicts", h.listConflicts)
	s.mux.Post("/v1/batches/{batchID}/resolutions", h.resolveConflicts)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

type conflictView struct {
	Index    int            `json:"index"`
	Row      int            `json:"row"`
	Resolved bool           `json:"resolved"`
	Action   *string        `json:"action,omitempty"`
	Conflict map[string]any `json:"conflict"`
}

func (h *Handlers) listConflicts(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	reports, err := h.Q.ListConflicts(r.Context(), batchID)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "failed to load conflicts")
		return
	}

	views := make([]conflictView, 0, len(reports))
	for _, c := range reports {
		views = append(views, conflictView{
			Index:    c.Index,
			Row:      c.Row,
			Resolved: c.Resolved,
			Action:   c.Action,
			Conflict: c.Payload,
		})
	}

	resp := map[string]any{"batch_id": batchID, "conflicts": views}
	etag, body := calcETagAndBody(resp)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write listConflicts body")
	}
}

type resolutionReq struct {
	ConflictIndex int      `json:"conflict_index"`
	Action        string   `json:"action"`
	ApplyChanges  []string `json:"apply_changes,omitempty"`
}

type resolveBody struct {
	Resolutions []resolutionReq `json:"resolutions"`
}

func (h *Handlers) resolveConflicts(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	var body resolveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "expected {\"resolutions\": [...]}")
		return
	}
	if len(body.Resolutions) == 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "resolutions must not be empty")
		return
	}

	// Reviewer identity travels explicitly with the request, never via
	// ambient state.
	actor := r.Header.Get("X-Reviewed-By")
	if actor == "" {
		actor = "api"
	}

	resolutions := make([]domain.Resolution, 0, len(body.Resolutions))
	for _, res := range body.Resolutions {
		resolutions = append(resolutions, domain.Resolution{
			ConflictIndex: res.ConflictIndex,
			Action:        domain.ResolutionAction(res.Action),
			ApplyChanges:  res.ApplyChanges,
		})
	}

	out := h.R.ResolveConflicts(r.Context(), batchID, resolutions, actor)

	errs := make([]map[string]any, 0, len(out.Errors))
	for _, e := range out.Errors {
		errs = append(errs, map[string]any{"row": e.Row, "message": e.Message})
	}
	resp := map[string]any{
		"updated": out.Updated,
		"created": out.Created,
		"skipped": out.Skipped,
		"errors":  errs,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to write resolveConflicts body")
	}
}
