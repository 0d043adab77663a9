package net

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	nethttp "net/http"
	"time"

	"stutterguard/server"
	"stutterguard/server/internal/net/intake"
	"stutterguard/server/internal/net/ws"
	"stutterguard/server/internal/redact"
	"stutterguard/server/internal/telemetry"
	"stutterguard/server/logging"
)

type HTTPHandlerConfig struct {
	ClientDir string
	Logger    telemetry.Logger
	Publisher logging.Publisher
	Limits    intake.Limits
}

type policyRequest struct {
	ID      string `json:"id"`
	Profile string `json:"profile"`
}

type policyResponse struct {
	Status   string `json:"status"`
	ID       string `json:"id"`
	Previous string `json:"previous"`
	Profile  string `json:"profile"`
}

type profilesResponse struct {
	Default  string   `json:"default"`
	Profiles []string `json:"profiles"`
}

type selfMetaRequest struct {
	ID    string `json:"id"`
	Flags string `json:"flags"`
}

type selfMetaResponse struct {
	Status  string   `json:"status"`
	Results []string `json:"results,omitempty"`
	Error   string   `json:"error,omitempty"`
}

func NewHTTPHandler(hub *server.Hub, cfg HTTPHandlerConfig) nethttp.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = telemetry.WrapLogger(log.Default())
	}

	mux := nethttp.NewServeMux()

	mux.HandleFunc("/health", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("/diagnostics", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		payload := struct {
			Status     string `json:"status"`
			ServerTime int64  `json:"serverTime"`
			TickRate   int    `json:"tickRate"`
			Heartbeat  int64  `json:"heartbeatMillis"`
			server.Diagnostics
		}{
			Status:      "ok",
			ServerTime:  time.Now().UnixMilli(),
			TickRate:    hub.TickRate(),
			Heartbeat:   hub.HeartbeatInterval().Milliseconds(),
			Diagnostics: hub.Diagnostics(),
		}
		writeJSON(w, nethttp.StatusOK, payload)
	})

	mux.HandleFunc("/join", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, nethttp.StatusOK, hub.Join())
	})

	mux.HandleFunc("/admin/policy", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		switch r.Method {
		case nethttp.MethodGet:
			writeJSON(w, nethttp.StatusOK, profilesResponse{
				Default:  hub.DefaultProfile(),
				Profiles: hub.Profiles().Names(),
			})
		case nethttp.MethodPost:
			var req policyRequest
			if !decodeBody(w, r, &req) {
				return
			}
			if req.ID == "" || req.Profile == "" {
				httpError(w, "id and profile are required", nethttp.StatusBadRequest)
				return
			}
			previous, err := hub.SetPlayerPolicy(r.Context(), req.ID, req.Profile)
			switch {
			case errors.Is(err, server.ErrUnknownPlayer):
				httpError(w, err.Error(), nethttp.StatusNotFound)
				return
			case errors.Is(err, redact.ErrUnknownProfile):
				httpError(w, err.Error(), nethttp.StatusBadRequest)
				return
			case err != nil:
				logger.Printf("failed to set policy for %s: %v", req.ID, err)
				httpError(w, "failed to set policy", nethttp.StatusInternalServerError)
				return
			}
			writeJSON(w, nethttp.StatusOK, policyResponse{
				Status:   "ok",
				ID:       req.ID,
				Previous: previous,
				Profile:  req.Profile,
			})
		default:
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
		}
	})

	mux.HandleFunc("/admin/selfmeta", func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			httpError(w, "method not allowed", nethttp.StatusMethodNotAllowed)
			return
		}
		var req selfMetaRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.ID == "" || req.Flags == "" {
			httpError(w, "id and flags are required", nethttp.StatusBadRequest)
			return
		}
		results, err := hub.SelfMeta(r.Context(), req.ID, req.Flags)
		if errors.Is(err, server.ErrUnknownPlayer) {
			httpError(w, err.Error(), nethttp.StatusNotFound)
			return
		}
		response := selfMetaResponse{Status: "ok", Results: results}
		status := nethttp.StatusOK
		if err != nil {
			response.Status = "error"
			response.Error = err.Error()
			status = nethttp.StatusBadRequest
		}
		writeJSON(w, status, response)
	})

	sessions := ws.NewHandler(hub, ws.HandlerConfig{
		Logger:    logger,
		Publisher: cfg.Publisher,
		Limits:    cfg.Limits,
	})
	mux.HandleFunc("/ws", sessions.Handle)

	if cfg.ClientDir != "" {
		fs := nethttp.FileServer(nethttp.Dir(cfg.ClientDir))
		mux.Handle("/", fs)
	}

	return mux
}

func decodeBody(w nethttp.ResponseWriter, r *nethttp.Request, dst any) bool {
	if r.Body == nil {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && err != io.EOF {
		httpError(w, "invalid payload", nethttp.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w nethttp.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		httpError(w, "failed to encode", nethttp.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

func httpError(w nethttp.ResponseWriter, msg string, code int) {
	nethttp.Error(w, msg, code)
}
