package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"structurecraft.ai/internal/app"
	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/pipeline"
	"structurecraft.ai/internal/protocol"
	"structurecraft.ai/internal/script"
	"structurecraft.ai/internal/scriptstore"
	"structurecraft.ai/internal/transport/mcp"
	"structurecraft.ai/internal/transport/ws"
	"structurecraft.ai/internal/voxel"
)

const (
	maxBodyBytes     = 1 << 20
	defaultListLimit = 10
	maxListLimit     = 50
)

type api struct {
	app *app.App
	log *zap.Logger
}

type buildResponse struct {
	BuildID     string              `json:"build_id"`
	Name        string              `json:"name,omitempty"`
	Stats       protocol.BuildStats `json:"stats"`
	Diagnostics []diag.Event        `json:"diagnostics"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	BuildID string `json:"build_id,omitempty"`
}

type worldResponse struct {
	voxel.Stats
	CatalogDigest string `json:"catalog_digest"`
}

func newHandler(a *app.App, wsSrv *ws.Server, mcpSrv *mcp.Server) http.Handler {
	h := &api{app: a, log: a.Logger.Named("http")}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /metrics", h.metrics)
	mux.HandleFunc("POST /v1/build", h.build)
	mux.HandleFunc("GET /v1/scripts", h.listScripts)
	mux.HandleFunc("GET /v1/scripts/{name}", h.getScript)
	mux.HandleFunc("DELETE /v1/scripts/{name}", h.deleteScript)
	mux.HandleFunc("GET /v1/world", h.world)
	mux.HandleFunc("GET /v1/ws", wsSrv.Handler())
	mux.HandleFunc("POST /mcp", mcpSrv.Handler())
	return mux
}

func (h *api) build(rw http.ResponseWriter, r *http.Request) {
	var bm protocol.BuildMsg
	if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodyBytes)).Decode(&bm); err != nil {
		writeError(rw, http.StatusBadRequest, errorResponse{Code: protocol.ErrBadRequest, Message: "bad json: " + err.Error()})
		return
	}
	buildID := uuid.NewString()
	req, err := pipeline.RequestFromMessage(bm, buildID)
	if err == nil {
		var out pipeline.Outcome
		out, err = h.app.Pipeline.Build(r.Context(), req, h.app.World, nil)
		if err == nil {
			writeJSON(rw, http.StatusOK, buildResponse{
				BuildID:     out.BuildID,
				Name:        out.Name,
				Stats:       out.ProtocolStats(),
				Diagnostics: out.Diagnostics,
			})
			return
		}
	}
	code := pipeline.Code(err)
	h.log.Info("build failed", zap.String("build_id", buildID), zap.String("code", code), zap.Error(err))
	writeError(rw, statusFor(code), errorResponse{Code: code, Message: pipeline.FailureMessage(err), BuildID: buildID})
}

func (h *api) listScripts(rw http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(rw, http.StatusBadRequest, errorResponse{Code: protocol.ErrBadRequest, Message: "limit must be an integer"})
			return
		}
		limit = min(max(n, 1), maxListLimit)
	}
	infos, err := h.app.Store.List(r.Context(), limit)
	if err != nil {
		h.fail(rw, err)
		return
	}
	if infos == nil {
		infos = []scriptstore.Info{}
	}
	writeJSON(rw, http.StatusOK, infos)
}

func (h *api) getScript(rw http.ResponseWriter, r *http.Request) {
	sc, err := h.app.Store.Load(r.Context(), r.PathValue("name"))
	if err != nil {
		h.fail(rw, err)
		return
	}
	b, err := script.Marshal(sc)
	if err != nil {
		h.fail(rw, err)
		return
	}
	rw.Header().Set("Content-Type", "application/json")
	_, _ = rw.Write(b)
}

func (h *api) deleteScript(rw http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	ok, err := h.app.Store.Delete(r.Context(), name)
	if err != nil {
		h.fail(rw, err)
		return
	}
	if !ok {
		h.fail(rw, scriptstore.ErrNotFound)
		return
	}
	rw.WriteHeader(http.StatusNoContent)
}

func (h *api) world(rw http.ResponseWriter, r *http.Request) {
	writeJSON(rw, http.StatusOK, worldResponse{
		Stats:         h.app.World.Stats(),
		CatalogDigest: h.app.Catalog.PaletteDigest,
	})
}

func (h *api) fail(rw http.ResponseWriter, err error) {
	code := pipeline.Code(err)
	if code == protocol.ErrInternal {
		h.log.Error("request failed", zap.Error(err))
	}
	msg := err.Error()
	if errors.Is(err, scriptstore.ErrNotFound) {
		msg = "script not found"
	}
	writeError(rw, statusFor(code), errorResponse{Code: code, Message: msg})
}

func statusFor(code string) int {
	switch code {
	case protocol.ErrBadRequest, protocol.ErrProtoBadRequest:
		return http.StatusBadRequest
	case protocol.ErrNotFound:
		return http.StatusNotFound
	case protocol.ErrTooLarge:
		return http.StatusRequestEntityTooLarge
	case protocol.ErrMalformedDocument, protocol.ErrSchemaMismatch, protocol.ErrEmptyScript:
		return http.StatusUnprocessableEntity
	case protocol.ErrLLM:
		return http.StatusBadGateway
	case protocol.ErrBusy:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeError(rw http.ResponseWriter, status int, e errorResponse) {
	writeJSON(rw, status, e)
}
