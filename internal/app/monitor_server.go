package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trade-core/internal/monitor"
)

func startMonitorServer(ctx context.Context, o *Orchestrator, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := clampLimit(q.Get("limit"), 200)

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := o.monitor.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, events, logger)
	})

	mux.HandleFunc("/portfolio", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, o.book.Report(), logger)
	})

	mux.HandleFunc("/audit", func(w http.ResponseWriter, r *http.Request) {
		limit := clampLimit(r.URL.Query().Get("limit"), 50)
		entries, err := o.audit.Recent(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, entries, logger)
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}

func clampLimit(raw string, fallback int) int {
	limit := fallback
	if raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			if v > 1000 {
				v = 1000
			}
			limit = v
		}
	}
	return limit
}

func writeJSON(w http.ResponseWriter, payload interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入监控响应失败", zap.Error(err))
	}
}
