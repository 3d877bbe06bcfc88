package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var servePort int

// pushEnvelope is the Pub/Sub push subscription payload. The message data
// carries no instructions; receiving any message triggers a refresh.
type pushEnvelope struct {
	Message struct {
		MessageID string `json:"messageId"`
		Data      string `json:"data"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the push-subscription server",
	Long:  "Listens for Pub/Sub push messages and executes one refresh per message.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		})

		r.Post("/pubsub", func(w http.ResponseWriter, req *http.Request) {
			var envelope pushEnvelope
			if err := json.NewDecoder(req.Body).Decode(&envelope); err != nil {
				http.Error(w, `{"error":"invalid push envelope"}`, http.StatusBadRequest)
				return
			}

			logger.Info("push message received",
				zap.String("message_id", envelope.Message.MessageID),
				zap.String("subscription", envelope.Subscription),
			)

			run, err := env.Pipeline.Run(req.Context())
			if err != nil {
				logger.Error("push-triggered run failed", zap.Error(err))
				http.Error(w, `{"error":"run failed"}`, http.StatusInternalServerError)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"run_id":           run.ID,
				"points_added":     run.PointsAdded,
				"counties_updated": run.CountiesUpdated,
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		logger.Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
