// Package stdio provides the newline-delimited JSON-RPC transport over
// standard input and output.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sqlward/sqlward/internal/ctxkey"
	"github.com/sqlward/sqlward/internal/domain/auth"
	"github.com/sqlward/sqlward/internal/service"
	"github.com/sqlward/sqlward/pkg/wire"
)

// protocolVersion is reported in initialize responses.
const protocolVersion = "2024-11-05"

// Server reads requests from an input stream, routes them through the
// auth middleware and dispatcher, and writes responses to an output
// stream. One request is processed at a time; the transport itself is
// the serialization point.
type Server struct {
	authz      *service.AuthService
	dispatcher *service.Dispatcher
	version    string
	logger     *slog.Logger
}

// NewServer creates a stdio transport server.
func NewServer(authz *service.AuthService, dispatcher *service.Dispatcher, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		authz:      authz,
		dispatcher: dispatcher,
		version:    version,
		logger:     logger,
	}
}

// Serve blocks reading from stdin until EOF or context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	return s.Run(ctx, os.Stdin, os.Stdout)
}

// Run processes newline-delimited JSON-RPC messages from r, writing
// responses to w. Exposed separately from Serve for tests.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Messages can be large; grow the scanner buffer up front.
	buf := make([]byte, 0, 256*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		start := time.Now()
		response := s.handle(ctx, append([]byte(nil), raw...))
		if response == nil {
			continue
		}
		if _, err := w.Write(response); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}

		s.logger.Debug("handled message", "latency_us", time.Since(start).Microseconds())
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan input: %w", err)
	}
	return nil
}

// handle processes one raw message and returns the response bytes, or
// nil when no response should be sent (notifications).
func (s *Server) handle(ctx context.Context, raw []byte) []byte {
	msg, err := wire.Wrap(raw)
	if err != nil {
		s.logger.Debug("failed to decode message", "error", err)
		return wire.ErrorResponse(nil, wire.CodeParseError, "parse error", nil)
	}
	if !msg.IsRequest() {
		return nil
	}
	id := msg.RawID()
	if id == nil {
		// A request without an ID is a notification; process methods with
		// side effects but never respond.
		if msg.Method() == "notifications/initialized" {
			return nil
		}
	}

	switch msg.Method() {
	case "initialize":
		return wire.ResultResponse(id, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]any{"name": "sqlward", "version": s.version},
		})

	case "ping":
		return wire.ResultResponse(id, map[string]any{})

	case "tools/list":
		return wire.ResultResponse(id, map[string]any{"tools": s.dispatcher.Tools()})

	case "tools/call":
		return s.handleToolCall(ctx, msg, id)

	case "session/destroy":
		params := msg.ParseParams()
		sessionID, _ := params["session_id"].(string)
		if sessionID == "" {
			return wire.ErrorResponse(id, wire.CodeInvalidParams, "session_id is required", nil)
		}
		s.authz.DestroySession(sessionID)
		return wire.ResultResponse(id, map[string]any{"destroyed": sessionID})

	default:
		return wire.ErrorResponse(id, wire.CodeMethodNotFound,
			fmt.Sprintf("method not found: %s", msg.Method()), nil)
	}
}

// handleToolCall authenticates the caller and dispatches the operation.
// Internal error detail is logged, never sent to the client.
func (s *Server) handleToolCall(ctx context.Context, msg *wire.Message, id json.RawMessage) []byte {
	params := msg.ParseParams()
	if params == nil {
		return wire.ErrorResponse(id, wire.CodeInvalidParams, "invalid params", nil)
	}
	name, _ := params["name"].(string)
	if name == "" {
		return wire.ErrorResponse(id, wire.CodeInvalidParams, "tool name is required", nil)
	}
	args, _ := params["arguments"].(map[string]any)

	var authCtx *auth.Context
	if token := msg.ExtractToken(); token != "" {
		var err error
		authCtx, err = s.authz.Authenticate(token, clientUserAgent(params), "local")
		if err != nil {
			s.logger.Warn("authentication failed", "tool", name, "error", err)
			return wire.ErrorResponse(id, wire.CodeUnauthorized, auth.SafeErrorMessage(err),
				map[string]any{"code": string(auth.ErrCode(err))})
		}
	} else {
		authCtx = s.authz.AnonymousContext()
	}

	callCtx := context.WithValue(ctx, ctxkey.RequestIDKey{}, string(id))
	result, err := s.dispatcher.Dispatch(callCtx, authCtx, name, args)
	if err != nil {
		s.logger.Warn("tool call failed", "tool", name, "error", err)
		code := wire.CodeInternalError
		if errCode := auth.ErrCode(err); errCode != "" {
			code = wire.CodeUnauthorized
			return wire.ErrorResponse(id, code, auth.SafeErrorMessage(err),
				map[string]any{"code": string(errCode)})
		}
		return wire.ErrorResponse(id, code, "tool execution failed", nil)
	}

	text, err := json.Marshal(result)
	if err != nil {
		return wire.ErrorResponse(id, wire.CodeInternalError, "tool execution failed", nil)
	}
	return wire.ResultResponse(id, map[string]any{
		"content": []map[string]any{{"type": "text", "text": string(text)}},
	})
}

func clientUserAgent(params map[string]any) string {
	if meta, ok := params["_meta"].(map[string]any); ok {
		if ua, ok := meta["userAgent"].(string); ok {
			return ua
		}
	}
	return ""
}
