package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"structurecraft.ai/internal/build"
	"structurecraft.ai/internal/diag"
	"structurecraft.ai/internal/pipeline"
	"structurecraft.ai/internal/protocol"
)

// MaxInFlight caps concurrent builds per connection.
const MaxInFlight = 4

// Server streams builds over websocket sessions. Every BUILD runs in its own
// goroutine; its diagnostics and result share the session's single writer.
type Server struct {
	p     *pipeline.Pipeline
	world build.Writer
	log   *zap.Logger

	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	conns  sync.WaitGroup
}

func NewServer(p *pipeline.Pipeline, w build.Writer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		p:     p,
		world: w,
		log:   logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Close ends every session and waits for running builds to return.
func (s *Server) Close() {
	s.cancel()
	s.conns.Wait()
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.ctx.Err() != nil {
			http.Error(rw, "shutting down", http.StatusServiceUnavailable)
			return
		}
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		s.conns.Add(1)
		defer s.conns.Done()
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		s.log.Info("session open", zap.String("session_id", sess.id), zap.String("client", sess.client))

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()
		sess.ctx = ctx

		var wg sync.WaitGroup

		// Writer goroutine.
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					_ = conn.Close() // unblocks the reader
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			base, err := protocol.DecodeBase(msg)
			if err != nil || base.Type != protocol.TypeBuild {
				continue
			}
			var bm protocol.BuildMsg
			if err := json.Unmarshal(msg, &bm); err != nil {
				sess.send(protocol.NewBuildFail("", "", protocol.ErrProtoBadRequest, "bad BUILD: "+err.Error()))
				continue
			}
			if bm.ProtocolVersion != protocol.Version {
				sess.send(protocol.NewBuildFail(bm.RequestID, "", protocol.ErrProtoBadRequest, "bad protocol_version"))
				continue
			}
			select {
			case sess.slots <- struct{}{}:
			default:
				sess.send(protocol.NewBuildFail(bm.RequestID, "", protocol.ErrBusy, "too many builds in flight"))
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sess.slots }()
				s.runBuild(sess, bm)
			}()
		}

		cancel()
		wg.Wait()
		s.log.Info("session closed", zap.String("session_id", sess.id))
	}
}

type session struct {
	id     string
	client string
	ctx    context.Context
	out    chan []byte
	slots  chan struct{}
}

// send queues v for the writer; it gives up once the session is gone.
func (ss *session) send(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case ss.out <- b:
	case <-ss.ctx.Done():
	}
}

func (s *Server) runBuild(sess *session, bm protocol.BuildMsg) {
	buildID := uuid.NewString()
	req, err := pipeline.RequestFromMessage(bm, buildID)
	if err != nil {
		sess.send(protocol.NewBuildFail(bm.RequestID, buildID, pipeline.Code(err), pipeline.FailureMessage(err)))
		return
	}

	sess.send(protocol.BuildAckMsg{
		Type:            protocol.TypeBuildAck,
		ProtocolVersion: protocol.Version,
		RequestID:       bm.RequestID,
		BuildID:         buildID,
	})

	sink := diag.Func(func(e diag.Event) {
		sess.send(protocol.BuildEventMsg{
			Type:            protocol.TypeBuildEvent,
			ProtocolVersion: protocol.Version,
			RequestID:       bm.RequestID,
			BuildID:         buildID,
			Event:           e,
		})
	})
	out, err := s.p.Build(sess.ctx, req, s.world, sink)
	if err != nil {
		s.log.Warn("build failed", zap.String("build_id", buildID), zap.Error(err))
		sess.send(protocol.NewBuildFail(bm.RequestID, buildID, pipeline.Code(err), pipeline.FailureMessage(err)))
		return
	}
	sess.send(protocol.BuildDoneMsg{
		Type:            protocol.TypeBuildDone,
		ProtocolVersion: protocol.Version,
		RequestID:       bm.RequestID,
		BuildID:         buildID,
		Name:            out.Name,
		Stats:           out.ProtocolStats(),
	})
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return nil
	}
	if hello.ClientName == "" {
		hello.ClientName = "client"
	}

	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 64
	}
	if maxQ > 1024 {
		maxQ = 1024
	}

	cfg := s.p.Config()
	cat := s.p.Catalog()
	sess := &session{
		id:     uuid.NewString(),
		client: hello.ClientName,
		out:    make(chan []byte, maxQ),
		slots:  make(chan struct{}, MaxInFlight),
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		Catalog:         protocol.DigestRef{Digest: cat.PaletteDigest, Count: len(cat.Palette)},
		ActivePrompt:    cfg.ActivePrompt,
		Prompts:         cfg.PromptNames(),
		MaxInFlight:     MaxInFlight,
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
