// Package server exposes the gateway's three operations over a websocket
// endpoint carrying JSON frames, alongside the health and metrics HTTP
// endpoints. One connection multiplexes many in-flight requests; replies
// carry the request id they answer.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/toolgate/toolgate/internal/gateway"
	"github.com/toolgate/toolgate/internal/metrics"
)

const (
	OpIntelligentRoute = "intelligent_route"
	OpGetMethodSchema  = "get_method_schema"
	OpExecuteTool      = "execute_tool"
	OpCancelSession    = "cancel_session"
)

// Frame is one inbound request on the websocket.
type Frame struct {
	ID         string          `json:"id"`
	Op         string          `json:"op"`
	Text       string          `json:"text,omitempty"`
	Identifier string          `json:"identifier,omitempty"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
	SessionID  string          `json:"session_id,omitempty"`
}

// Reply answers exactly one frame.
type Reply struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

type WireError struct {
	Kind    gateway.Kind `json:"kind"`
	Message string       `json:"message"`
	Tool    string       `json:"tool,omitempty"`
}

type Server struct {
	gw   *gateway.Gateway
	met  *metrics.Metrics
	http *http.Server

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func New(addr string, gw *gateway.Gateway, met *metrics.Metrics) *Server {
	s := &Server{gw: gw, met: met, conns: make(map[*websocket.Conn]struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	if met != nil {
		mux.Handle("/metrics", met.Handler())
	}
	s.http = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return s
}

func (s *Server) ListenAndServe() error {
	log.Printf("server: listening on %s", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve runs on an existing listener, for tests.
func (s *Server) Serve(lis net.Listener) error {
	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown closes the HTTP listener and all live websocket connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close(websocket.StatusGoingAway, "shutting down")
	}
	s.mu.Unlock()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("server: websocket accept: %v", err)
		return
	}
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.CloseNow()
	}()

	ctx := r.Context()
	var writeMu sync.Mutex
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
		wg.Add(1)
		go func(f Frame) {
			defer wg.Done()
			reply := s.dispatch(ctx, &f)
			writeMu.Lock()
			defer writeMu.Unlock()
			if err := wsjson.Write(ctx, conn, reply); err != nil {
				log.Printf("server: writing reply %s: %v", f.ID, err)
			}
		}(f)
	}
}

func (s *Server) dispatch(ctx context.Context, f *Frame) *Reply {
	switch f.Op {
	case OpIntelligentRoute:
		resp, err := s.gw.IntelligentRoute(ctx, f.Text)
		return s.reply(f.ID, resp, err)
	case OpGetMethodSchema:
		resp, err := s.gw.GetMethodSchema(ctx, f.Identifier)
		return s.reply(f.ID, resp, err)
	case OpExecuteTool:
		resp, err := s.gw.ExecuteTool(ctx, f.Identifier, f.Arguments)
		return s.reply(f.ID, resp, err)
	case OpCancelSession:
		ok := s.gw.CancelSession(f.SessionID)
		return s.reply(f.ID, map[string]bool{"cancelled": ok}, nil)
	default:
		return &Reply{ID: f.ID, Error: &WireError{
			Kind:    gateway.KindSchemaNegotiation,
			Message: fmt.Sprintf("unknown operation %q", f.Op),
		}}
	}
}

func (s *Server) reply(id string, result interface{}, err error) *Reply {
	if err != nil {
		we := &WireError{Kind: gateway.KindOf(err), Message: err.Error()}
		var ge *gateway.Error
		if errors.As(err, &ge) {
			we.Message = ge.Message
			we.Tool = ge.Tool
		}
		return &Reply{ID: id, Error: we}
	}
	data, merr := json.Marshal(result)
	if merr != nil {
		return &Reply{ID: id, Error: &WireError{
			Kind:    gateway.KindExecutionFault,
			Message: fmt.Sprintf("encoding result: %v", merr),
		}}
	}
	return &Reply{ID: id, OK: true, Result: data}
}
