package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mutator/internal/model"
	"github.com/sells-group/mutator/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mutation engine HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.Server.Port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("http server listening", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		zap.L().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func newRouter(env *engineEnv) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /objects", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string `json:"name"`
			Language string `json:"language"`
			Code     string `json:"code"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		obj, err := env.Pipeline.CreateObject(r.Context(), req.Name, req.Language, req.Code)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, obj)
	})

	mux.HandleFunc("GET /objects", func(w http.ResponseWriter, r *http.Request) {
		objs, err := env.Store.ListObjects(r.Context(), store.ObjectFilter{
			Status: model.Status(r.URL.Query().Get("status")),
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, objs)
	})

	mux.HandleFunc("GET /objects/{id}", func(w http.ResponseWriter, r *http.Request) {
		obj, err := env.Store.GetObject(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, obj)
	})

	mux.HandleFunc("GET /objects/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		mods, rollbacks, err := env.Store.GetHistory(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct {
			Modifications []model.ModificationRecord `json:"modifications"`
			Rollbacks     []model.RollbackRecord     `json:"rollbacks"`
		}{mods, rollbacks})
	})

	mux.HandleFunc("POST /objects/{id}/modify", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Request string `json:"request"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		outcome, err := env.Pipeline.RequestModification(r.Context(), r.PathValue("id"), req.Request)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})

	mux.HandleFunc("POST /objects/{id}/rollback", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TargetVersion int64  `json:"target_version"`
			Reason        string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		obj, err := env.Rollback.Rollback(r.Context(), r.PathValue("id"), req.TargetVersion, req.Reason)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, obj)
	})

	return mux
}

// writeDomainError maps engine errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrVersionNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, model.ErrConcurrentMutation):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, model.ErrInvalidPlan),
		errors.Is(err, model.ErrFutureVersion),
		errors.Is(err, model.ErrNoOpRollback),
		errors.Is(err, model.ErrValidationFailed):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, model.ErrOracleTimeout), errors.Is(err, model.ErrValidationTimeout):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().Int("port", 0, "Port to listen on (defaults to config)")
	rootCmd.AddCommand(serveCmd)
}
