// Package mcp exposes builds, saved scripts and block resolution as MCP-style
// JSON-RPC tools, so an agent can drive the builder without the websocket
// protocol.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/pipeline"
	"structurecraft.ai/internal/protocol"
	"structurecraft.ai/internal/script"
	"structurecraft.ai/internal/scriptstore"
	"structurecraft.ai/internal/voxel"
)

const (
	protocolVersion = "2024-11-05"
	maxBodyBytes    = 4 << 20
	defaultLimit    = 10
	maxLimit        = 50
)

var errBadArguments = errors.New("bad arguments")

type Config struct {
	Pipeline *pipeline.Pipeline
	Store    scriptstore.Store
	World    *voxel.World
	// HMACSecret turns on request signing. Without it only loopback
	// clients are served.
	HMACSecret string
	Logger     *zap.Logger
}

type Server struct {
	p      *pipeline.Pipeline
	store  scriptstore.Store
	world  *voxel.World
	secret []byte
	guard  *replayGuard
	log    *zap.Logger
	now    func() time.Time
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil || cfg.Store == nil || cfg.World == nil {
		return nil, errors.New("mcp: pipeline, store and world are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Server{
		p:     cfg.Pipeline,
		store: cfg.Store,
		world: cfg.World,
		log:   cfg.Logger,
		now:   time.Now,
	}
	if secret := strings.TrimSpace(cfg.HMACSecret); secret != "" {
		s.secret = []byte(secret)
		s.guard = newReplayGuard(2 * maxClockSkew)
	}
	return s, nil
}

func (s *Server) Handler() http.HandlerFunc { return s.handleMCP }

func (s *Server) handleMCP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(rw, "bad body", http.StatusBadRequest)
		return
	}
	_ = r.Body.Close()

	agent := "local"
	if len(s.secret) > 0 {
		vr := verifyHMAC(r, body, s.secret, s.now())
		if vr.HTTPStatus != 0 {
			http.Error(rw, vr.Message, vr.HTTPStatus)
			return
		}
		if !s.guard.allow(vr.AgentID, vr.Signature, s.now()) {
			http.Error(rw, "replayed request", http.StatusUnauthorized)
			return
		}
		agent = vr.AgentID
	} else if !isLoopback(r.RemoteAddr) {
		http.Error(rw, "forbidden: non-loopback client", http.StatusForbidden)
		return
	}

	req, bad := decodeRequest(body)
	if bad != nil {
		writeRPC(rw, http.StatusBadRequest, *bad)
		return
	}
	writeRPC(rw, http.StatusOK, s.dispatch(r.Context(), agent, req))
}

func (s *Server) dispatch(ctx context.Context, agent string, req rpcRequest) rpcResponse {
	switch req.Method {
	case "initialize":
		return rpcOK(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
		})

	case "list_tools":
		return rpcOK(req.ID, map[string]any{"tools": tools})

	case "call_tool":
		var p struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if len(req.Params) == 0 {
			return rpcErr(req.ID, codeInvalidParams, "missing params", nil)
		}
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return rpcErr(req.ID, codeInvalidParams, "bad params", err.Error())
		}
		if p.Name == "" {
			return rpcErr(req.ID, codeInvalidParams, "missing tool name", nil)
		}
		if !isKnownTool(p.Name) {
			return rpcErr(req.ID, codeMethodNotFound, "tool not found", map[string]any{"name": p.Name})
		}
		out, err := s.callTool(ctx, p.Name, p.Arguments)
		if errors.Is(err, errBadArguments) {
			return rpcErr(req.ID, codeInvalidParams, err.Error(), nil)
		}
		if err != nil {
			s.log.Info("tool failed", zap.String("agent", agent), zap.String("tool", p.Name), zap.Error(err))
			return rpcErr(req.ID, codeToolFailed, pipeline.FailureMessage(err), map[string]any{"code": pipeline.Code(err)})
		}
		return rpcOK(req.ID, out)

	default:
		return rpcErr(req.ID, codeMethodNotFound, "method not found", nil)
	}
}

type BuildResult struct {
	BuildID     string              `json:"build_id"`
	Name        string              `json:"name,omitempty"`
	Stats       protocol.BuildStats `json:"stats"`
	Diagnostics []diag.Event        `json:"diagnostics"`
}

type ResolveResult struct {
	ID    string `json:"id"`
	Block string `json:"block"`
	Kind  string `json:"kind"`
	Score int    `json:"score,omitempty"`
}

func (s *Server) callTool(ctx context.Context, name string, args json.RawMessage) (any, error) {
	switch name {
	case "p2s.build":
		var bm protocol.BuildMsg
		if err := decodeArgs(args, &bm); err != nil {
			return nil, err
		}
		req, err := pipeline.RequestFromMessage(bm, uuid.NewString())
		if err != nil {
			return nil, err
		}
		out, err := s.p.Build(ctx, req, s.world, nil)
		if err != nil {
			return nil, err
		}
		return BuildResult{
			BuildID:     out.BuildID,
			Name:        out.Name,
			Stats:       out.ProtocolStats(),
			Diagnostics: out.Diagnostics,
		}, nil

	case "p2s.list_scripts":
		var p struct {
			Limit int `json:"limit"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return nil, err
		}
		if p.Limit == 0 {
			p.Limit = defaultLimit
		}
		infos, err := s.store.List(ctx, min(max(p.Limit, 1), maxLimit))
		if err != nil {
			return nil, err
		}
		if infos == nil {
			infos = []scriptstore.Info{}
		}
		return map[string]any{"scripts": infos}, nil

	case "p2s.get_script":
		n, err := nameArg(args)
		if err != nil {
			return nil, err
		}
		sc, err := s.store.Load(ctx, n)
		if err != nil {
			return nil, err
		}
		b, err := script.Marshal(sc)
		if err != nil {
			return nil, err
		}
		return map[string]any{"name": n, "script": json.RawMessage(b)}, nil

	case "p2s.delete_script":
		n, err := nameArg(args)
		if err != nil {
			return nil, err
		}
		ok, err := s.store.Delete(ctx, n)
		if err != nil {
			return nil, err
		}
		return map[string]any{"deleted": ok}, nil

	case "p2s.resolve":
		var p struct {
			IDs []string `json:"ids"`
		}
		if err := decodeArgs(args, &p); err != nil {
			return nil, err
		}
		r := s.p.Resolver()
		out := make([]ResolveResult, 0, len(p.IDs))
		for _, id := range p.IDs {
			m := r.Resolve(id)
			out = append(out, ResolveResult{ID: id, Block: m.Block.ID, Kind: m.Kind.String(), Score: m.Score})
		}
		return map[string]any{"matches": out}, nil

	case "p2s.world":
		return s.world.Stats(), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

func decodeArgs(args json.RawMessage, v any) error {
	if len(args) == 0 || string(args) == "null" {
		return nil
	}
	if err := json.Unmarshal(args, v); err != nil {
		return fmt.Errorf("%w: %v", errBadArguments, err)
	}
	return nil
}

func nameArg(args json.RawMessage) (string, error) {
	var p struct {
		Name string `json:"name"`
	}
	if err := decodeArgs(args, &p); err != nil {
		return "", err
	}
	if strings.TrimSpace(p.Name) == "" {
		return "", fmt.Errorf("%w: missing name", errBadArguments)
	}
	return strings.TrimSpace(p.Name), nil
}
