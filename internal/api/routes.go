// Package api provides HTTP handlers for the spotview server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/atlasmap-sc/spotview/internal/cache"
	"github.com/atlasmap-sc/spotview/internal/selection"
	"github.com/atlasmap-sc/spotview/internal/service"
	"github.com/atlasmap-sc/spotview/internal/spot"
	"github.com/atlasmap-sc/spotview/internal/viewstore"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	Loader      *service.Loader
	Cache       *cache.Manager
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/", rootHandler(cfg.Registry))

	// Global endpoints (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))
	r.Get("/api/stats", statsHandler(cfg.Cache, cfg.Loader))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Get("/snapshot.png", withSession(snapshotHandler))

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", withSession(statusHandler))
			r.Post("/reload", reloadHandler(cfg.Loader))

			r.Get("/genes", withSession(genesHandler))
			r.Post("/expression", withSession(expressionHandler))
			r.Put("/mode", withSession(modeHandler))
			r.Put("/gene", withSession(geneHandler))
			r.Get("/legend", withSession(legendHandler))

			r.Get("/selection", withSession(selectionHandler))
			r.Post("/selection", withSession(addGeneHandler))
			r.Delete("/selection/{gene}", withSession(removeGeneHandler))

			r.Put("/clip", withSession(clipHandler))
			r.Delete("/clip", withSession(clearClipHandler))

			r.Get("/spots", withSession(spotsHandler))
			r.Get("/spots/index/{index}", withSession(spotAtHandler))
			r.Get("/spots/{id}", withSession(spotHandler))
			r.Get("/index-plot", withSession(indexPlotHandler))

			r.Get("/crosshair", withSession(crosshairHandler))
			r.Post("/crosshair/{event}", withSession(crosshairEventHandler))

			r.Route("/views", func(r chi.Router) {
				r.Get("/", withSession(listViewsHandler))
				r.Post("/", withSession(saveViewHandler))
				r.Get("/{view_id}", withSession(getViewHandler))
				r.Delete("/{view_id}", withSession(deleteViewHandler))
				r.Post("/{view_id}/apply", withSession(applyViewHandler))
			})
		})
	})

	return r
}

// Context key for dataset session
type ctxKey string

const datasetSessionKey ctxKey = "datasetSession"

// datasetMiddleware resolves the dataset from URL and injects its session into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			s := registry.Get(datasetID)
			if s == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetSessionKey, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetSession(r *http.Request) *service.Session {
	if s, ok := r.Context().Value(datasetSessionKey).(*service.Session); ok {
		return s
	}
	return nil
}

// withSession adapts a handler that takes the dataset session as parameter.
func withSession(h func(*service.Session) http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := getDatasetSession(r)
		if s == nil {
			http.Error(w, "dataset session not found", http.StatusInternalServerError)
			return
		}
		h(s)(w, r)
	}
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

// rootHandler redirects to the default dataset's status.
func rootHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := registry.Default()
		if s == nil {
			http.Error(w, "no default dataset", http.StatusNotFound)
			return
		}
		http.Redirect(w, r, "/d/"+url.PathEscape(s.ID())+"/api/status", http.StatusFound)
	}
}

// statsHandler reports cache occupancy and the datasets currently loading.
func statsHandler(c *cache.Manager, loader *service.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]interface{}{
			"loading": []string{},
		}
		if c != nil {
			resp["cache"] = c.Stats()
		}
		if loader != nil {
			resp["loading"] = loader.Running()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrNotReady), errors.Is(err, service.ErrQueueFull):
		w.Header().Set("Retry-After", "1")
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrLoadFailed), errors.Is(err, service.ErrLoaderStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, selection.ErrCapacity),
		errors.Is(err, selection.ErrAlreadySelected),
		errors.Is(err, service.ErrWrongMode):
		status = http.StatusConflict
	case errors.Is(err, selection.ErrUnknownGene),
		errors.Is(err, selection.ErrNotSelected),
		errors.Is(err, service.ErrSpotNotFound),
		errors.Is(err, spot.ErrIndexOutOfRange),
		errors.Is(err, viewstore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalid),
		errors.Is(err, service.ErrUnknownGradient),
		errors.Is(err, service.ErrNoCellTypes):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNoViews):
		status = http.StatusNotImplemented
	}
	http.Error(w, err.Error(), status)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// pathParam returns a URL parameter with percent-escapes decoded, so gene
// names containing '/' or spaces survive.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func statusHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	}
}

func reloadHandler(loader *service.Loader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if loader == nil {
			http.Error(w, "loader not configured", http.StatusNotImplemented)
			return
		}
		s := getDatasetSession(r)
		if s == nil {
			http.Error(w, "dataset session not found", http.StatusInternalServerError)
			return
		}
		if err := loader.Submit(s); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, s.Status())
	}
}

func genesHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		genes, err := s.SearchGenes(r.URL.Query().Get("q"))
		if err != nil {
			writeError(w, err)
			return
		}
		total := len(genes)
		if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
			limit, err := strconv.Atoi(limitStr)
			if err != nil || limit < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			if limit < len(genes) {
				genes = genes[:limit]
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"genes": genes,
			"total": total,
		})
	}
}

type expressionRequest struct {
	Genes []string `json:"genes"`
}

func expressionHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req expressionRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := s.Expression(req.Genes)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func modeHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req modeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		mode, err := service.ParseMode(req.Mode)
		if err != nil {
			writeError(w, err)
			return
		}
		lg, err := s.SetMode(mode)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lg)
	}
}

type geneRequest struct {
	Gene     string `json:"gene"`
	Gradient string `json:"gradient"`
}

func geneHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req geneRequest
		if !decodeBody(w, r, &req) {
			return
		}
		lg, err := s.SelectGene(strings.TrimSpace(req.Gene), req.Gradient)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lg)
	}
}

func legendHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lg, err := s.Legend()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lg)
	}
}

func selectionHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := s.Selection()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"selection": entries,
			"max":       selection.MaxGenes,
		})
	}
}

func addGeneHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req geneRequest
		if !decodeBody(w, r, &req) {
			return
		}
		entry, err := s.AddGene(strings.TrimSpace(req.Gene))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	}
}

func removeGeneHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.RemoveGene(pathParam(r, "gene")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func clipHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var c spot.Clip
		if !decodeBody(w, r, &c) {
			return
		}
		n, err := s.SetClip(c)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"visible": n, "clip": c})
	}
}

func clearClipHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := s.ClearClip()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"visible": n})
	}
}

func spotsHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		visibleOnly, _ := strconv.ParseBool(r.URL.Query().Get("visible"))
		spots, err := s.Spots(visibleOnly)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"spots": spots,
			"total": len(spots),
		})
	}
}

func spotHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := s.Spot(pathParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func spotAtHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			http.Error(w, "invalid index", http.StatusBadRequest)
			return
		}
		info, err := s.SpotAt(i)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func indexPlotHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		points, err := s.IndexPlot()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"points": points})
	}
}

func crosshairHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, err := s.Crosshair()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ch)
	}
}

type crosshairRequest struct {
	Index *int `json:"index"`
}

// crosshairEventHandler feeds index-plot events into the crosshair:
// hover and select need an index, unhover and deselect do not.
func crosshairEventHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event := chi.URLParam(r, "event")

		var req crosshairRequest
		if event == "hover" || event == "select" {
			if !decodeBody(w, r, &req) {
				return
			}
			if req.Index == nil {
				http.Error(w, "index is required", http.StatusBadRequest)
				return
			}
		}

		var (
			ch  selection.Crosshair
			err error
		)
		switch event {
		case "hover":
			ch, err = s.Hover(*req.Index)
		case "unhover":
			ch, err = s.Unhover()
		case "select":
			ch, err = s.Pin(*req.Index)
		case "deselect":
			ch, err = s.Unpin()
		default:
			http.Error(w, "unknown crosshair event: "+event, http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ch)
	}
}

func snapshotHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var p service.SnapshotParams
		var err error
		if v := q.Get("w"); v != "" {
			if p.Width, err = strconv.Atoi(v); err != nil || p.Width <= 0 {
				http.Error(w, "invalid w", http.StatusBadRequest)
				return
			}
		}
		if v := q.Get("h"); v != "" {
			if p.Height, err = strconv.Atoi(v); err != nil || p.Height <= 0 {
				http.Error(w, "invalid h", http.StatusBadRequest)
				return
			}
		}
		if v := q.Get("opacity"); v != "" {
			opacity, err := strconv.ParseFloat(v, 64)
			if err != nil {
				http.Error(w, "invalid opacity", http.StatusBadRequest)
				return
			}
			p.Opacity = &opacity
		}
		p.Crosshair = q.Get("crosshair") != "false"
		p.Legend = q.Get("legend") != "false"

		data, err := s.Snapshot(p)
		if err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

func listViewsHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		views, err := s.ListViews()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"views": views})
	}
}

type saveViewRequest struct {
	Name string `json:"name"`
}

func saveViewHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req saveViewRequest
		if !decodeBody(w, r, &req) {
			return
		}
		v, err := s.SaveView(req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, v)
	}
}

func getViewHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.GetView(chi.URLParam(r, "view_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}

func deleteViewHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.DeleteView(chi.URLParam(r, "view_id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func applyViewHandler(s *service.Session) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, err := s.ApplyView(chi.URLParam(r, "view_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}
