package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"autostartstop/internal/runner"
	"autostartstop/internal/runtime/supervisor"
	logx "autostartstop/pkg/logx"
)

// invokeRequest mirrors the scheduled event payload: only time is read.
type invokeRequest struct {
	Time string `json:"time"`
}

type response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type health struct {
	Status  string                 `json:"status"`
	Uptime  string                 `json:"uptime"`
	Cadence string                 `json:"cadence"`
	Next    time.Time              `json:"next"`
	Last    *Run                   `json:"last,omitempty"`
	Tasks   []supervisor.TaskStats `json:"tasks,omitempty"`
}

// Handler returns the HTTP API:
//
//	POST /invoke     {"time": "2024-01-01T12:00:00Z"} runs one pass
//	GET  /healthz    liveness and the last run summary
//	GET  /runs/last  the full report of the last run
//	/debug/...       net/http/pprof, when enabled
func (d *Daemon) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(d.logRequests)
	r.Use(d.recoverer)

	r.Post("/invoke", d.handleInvoke)
	r.Get("/healthz", d.handleHealth)
	r.Get("/runs/last", d.handleLast)
	if d.opts.Profiler {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

func (d *Daemon) handleInvoke(w http.ResponseWriter, r *http.Request) {
	var req invokeRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil {
		d.writeJSON(w, r, http.StatusBadRequest, response{Message: err.Error()})
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			d.writeJSON(w, r, http.StatusBadRequest, response{Message: fmt.Sprintf("invalid event: %v", err)})
			return
		}
	}
	if req.Time == "" {
		req.Time = r.URL.Query().Get("time")
	}

	// A disconnecting client must not abort a half-finished pass.
	rep, err := d.Invoke(context.WithoutCancel(r.Context()), req.Time)
	switch {
	case err == nil:
		d.writeJSON(w, r, http.StatusOK, response{Success: true, Message: "invocation finished", Data: rep})
	case errors.Is(err, runner.ErrTriggerTime):
		d.writeJSON(w, r, http.StatusBadRequest, response{Message: err.Error()})
	case errors.Is(err, ErrBusy):
		d.writeJSON(w, r, http.StatusConflict, response{Message: err.Error()})
	default:
		d.log.Error("invocation failed", logx.String("request_id", middleware.GetReqID(r.Context())), logx.Err(err))
		d.writeJSON(w, r, http.StatusBadGateway, response{Message: err.Error(), Data: rep})
	}
}

func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := d.now().In(d.opts.Location)
	next, _ := d.cadence.Next(now)
	h := health{Status: "ok", Cadence: d.cadence.String(), Next: next, Last: d.Last()}

	d.mu.Lock()
	sup, started := d.sup, d.started
	d.mu.Unlock()
	if sup != nil {
		h.Uptime = now.Sub(started).Truncate(time.Second).String()
		h.Tasks = sup.Tasks()
		if err := sup.Err(); err != nil {
			h.Status = "degraded"
		}
	}
	d.writeJSON(w, r, http.StatusOK, h)
}

func (d *Daemon) handleLast(w http.ResponseWriter, r *http.Request) {
	last := d.Last()
	if last == nil {
		d.writeJSON(w, r, http.StatusNotFound, response{Message: "no invocation yet"})
		return
	}
	d.writeJSON(w, r, http.StatusOK, response{Success: last.Error == "", Data: last})
}

func (d *Daemon) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		d.log.Warn("write response failed", logx.String("path", r.URL.Path), logx.Err(err))
	}
}

func (d *Daemon) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		d.log.Debug("request handled",
			logx.String("request_id", middleware.GetReqID(r.Context())),
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
		)
	})
}

func (d *Daemon) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				d.log.Error("handler panicked", logx.String("path", r.URL.Path), logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
				d.writeJSON(w, r, http.StatusInternalServerError, response{Message: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
