package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lookthrough/internal/audit"
	"github.com/sells-group/lookthrough/internal/model"
	"github.com/sells-group/lookthrough/internal/review"
	"github.com/sells-group/lookthrough/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newAPIRouter(st),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

// newAPIRouter exposes the pipeline's record tables read-only. The only
// write surface is review queue transitions; everything else mutates
// through the pipeline so the audit chain stays complete.
func newAPIRouter(st store.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/v1/runs", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		runs, err := st.ListRuns(req.Context(), store.RunFilter{
			Status:      model.RunStatus(q.Get("status")),
			PortfolioID: q.Get("portfolio"),
			Limit:       queryInt(q.Get("limit"), 100),
			Offset:      queryInt(q.Get("offset"), 0),
		})
		respondList(w, runs, err)
	})

	r.Get("/v1/runs/{run_id}", func(w http.ResponseWriter, req *http.Request) {
		run, err := st.GetRun(req.Context(), chi.URLParam(req, "run_id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Get("/v1/exposures", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		rows, err := st.ListExposures(req.Context(), store.ExposureFilter{
			RunID:       q.Get("run"),
			PortfolioID: q.Get("portfolio"),
			FundID:      q.Get("fund"),
			AsOfDate:    q.Get("as_of"),
			Limit:       queryInt(q.Get("limit"), 500),
			Offset:      queryInt(q.Get("offset"), 0),
		})
		respondList(w, rows, err)
	})

	r.Get("/v1/classifications", func(w http.ResponseWriter, req *http.Request) {
		runID := req.URL.Query().Get("run")
		if runID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "run query parameter is required"})
			return
		}
		rows, err := st.ListClassifications(req.Context(), runID)
		respondList(w, rows, err)
	})

	r.Get("/v1/snapshots", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		rows, err := st.ListSnapshots(req.Context(), store.SnapshotFilter{
			RunID:        q.Get("run"),
			PortfolioID:  q.Get("portfolio"),
			TaxonomyType: q.Get("type"),
			AsOfDate:     q.Get("as_of"),
		})
		respondList(w, rows, err)
	})

	r.Get("/v1/queue", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		rows, err := st.ListReviewItems(req.Context(), store.ReviewFilter{
			RunID:    q.Get("run"),
			Status:   model.ReviewStatus(q.Get("status")),
			Reason:   model.ReviewReason(q.Get("reason")),
			Priority: model.Priority(q.Get("priority")),
			Limit:    queryInt(q.Get("limit"), 100),
			Offset:   queryInt(q.Get("offset"), 0),
		})
		respondList(w, rows, err)
	})

	r.Post("/v1/queue/{item_id}/transition", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Status model.ReviewStatus `json:"status"`
			Actor  string             `json:"actor"`
			Note   string             `json:"note"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}

		item, err := st.GetReviewItem(req.Context(), chi.URLParam(req, "item_id"))
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "review item not found"})
			return
		}

		queue := review.NewQueue(audit.NewLog(st))
		if err := queue.Transition(req.Context(), item, body.Status, body.Actor, body.Note); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		if err := st.UpdateReviewItem(req.Context(), *item); err != nil {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, item)
	})

	r.Get("/v1/audit", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		rows, err := audit.NewLog(st).List(req.Context(), audit.Filter{
			RunID:    q.Get("run"),
			Action:   q.Get("action"),
			EntityID: q.Get("entity"),
			Limit:    queryInt(q.Get("limit"), 200),
		})
		respondList(w, rows, err)
	})

	r.Get("/v1/audit/{run_id}/verify", func(w http.ResponseWriter, req *http.Request) {
		runID := chi.URLParam(req, "run_id")
		if err := audit.NewLog(st).Verify(req.Context(), runID); err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{"run_id": runID, "intact": false, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"run_id": runID, "intact": true})
	})

	return r
}

func respondList[T any](w http.ResponseWriter, rows []T, err error) {
	if err != nil {
		zap.L().Error("list query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	if rows == nil {
		rows = []T{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
