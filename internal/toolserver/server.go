package toolserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
)

// Handler is the server-side contract a tool server implements.
type Handler interface {
	Tools() []ToolMsg
	Call(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error)
}

// Serve accepts connections on lis and answers protocol requests with h
// until ctx is cancelled or the listener closes. Each connection is handled
// on its own goroutine; requests within one connection are sequential.
func Serve(ctx context.Context, lis net.Listener, h Handler) error {
	go func() {
		<-ctx.Done()
		_ = lis.Close()
	}()
	for {
		conn, err := lis.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("toolserver: accept: %w", err)
		}
		go serveConn(ctx, conn, h)
	}
}

func serveConn(ctx context.Context, conn net.Conn, h Handler) {
	defer conn.Close()
	for {
		var req Request
		if err := ReadMessage(conn, &req); err != nil {
			return
		}
		resp := handle(ctx, &req, h)
		if err := WriteMessage(conn, resp); err != nil {
			log.Printf("toolserver: write response: %v", err)
			return
		}
	}
}

func handle(ctx context.Context, req *Request, h Handler) *Response {
	switch req.Method {
	case "tools":
		return &Response{Tools: h.Tools()}
	case "call":
		result, err := h.Call(ctx, req.Tool, req.Args)
		if err != nil {
			return &Response{ID: req.ID, Error: err.Error()}
		}
		return &Response{ID: req.ID, Result: result}
	default:
		return &Response{ID: req.ID, Error: fmt.Sprintf("unknown method %q", req.Method)}
	}
}
