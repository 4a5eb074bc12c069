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

	"order-tracker/internal/monitor"
	"order-tracker/internal/order"
	"order-tracker/internal/tracker"
)

type orderView struct {
	order.Result
	Remaining string `json:"remaining"`
	Summary   string `json:"summary"`
}

func newOrderView(r order.Result) orderView {
	return orderView{
		Result:    r,
		Remaining: r.Remaining().String(),
		Summary:   order.Describe(r),
	}
}

func newHandler(tr *tracker.Tracker, svc *monitor.Service, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /orders", func(w http.ResponseWriter, r *http.Request) {
		symbol := strings.TrimSpace(r.URL.Query().Get("symbol"))
		results := tr.Snapshot()
		views := make([]orderView, 0, len(results))
		for _, res := range results {
			if symbol != "" && !strings.EqualFold(res.Symbol, symbol) {
				continue
			}
			views = append(views, newOrderView(res))
		}
		writeJSON(w, views, logger)
	})

	mux.HandleFunc("GET /orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		res, ok := tr.Get(r.PathValue("id"))
		if !ok {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		writeJSON(w, newOrderView(res), logger)
	})

	if svc != nil {
		mux.HandleFunc("GET /events", func(w http.ResponseWriter, r *http.Request) {
			q := r.URL.Query()
			limit := 200
			if qs := q.Get("limit"); qs != "" {
				if v, err := strconv.Atoi(qs); err == nil && v > 0 {
					if v > 1000 {
						v = 1000
					}
					limit = v
				}
			}

			eventType := monitor.EventType("")
			if typ := strings.TrimSpace(q.Get("type")); typ != "" {
				eventType = monitor.EventType(strings.ToLower(typ))
			}

			events, err := svc.ListEvents(r.Context(), eventType, limit)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			writeJSON(w, events, logger)
		})
	}

	return mux
}

func writeJSON(w http.ResponseWriter, v interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("写入查询响应失败", zap.Error(err))
	}
}

func startServer(ctx context.Context, handler http.Handler, port int, logger *zap.Logger) {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭查询服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("查询服务异常", zap.Error(err))
		}
	}()

	logger.Info("查询接口已启动", zap.String("addr", addr))
}
