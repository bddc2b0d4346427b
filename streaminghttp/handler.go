package streaminghttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
	"github.com/relaykit/relay/cache"
	"github.com/relaykit/relay/internal/duplex"
	"github.com/relaykit/relay/internal/jsonrpc"
	"github.com/relaykit/relay/internal/logctx"
	"github.com/relaykit/relay/internal/ratelimit"
	"github.com/relaykit/relay/internal/reaper"
	"github.com/relaykit/relay/internal/registry"
	"github.com/relaykit/relay/service"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType         = contenttype.NewMediaType("application/json")
	eventStreamMediaType  = contenttype.NewMediaType("text/event-stream")
	eventStreamMediaTypes = []contenttype.MediaType{eventStreamMediaType}
)

const (
	// Use canonical header names for clarity; Go matches headers case-insensitively.
	sessionIDHeader   = "Relay-Session-Id"
	lastEventIDHeader = "Last-Event-ID"
	retryAfterHeader  = "Retry-After"

	initializeMethod = "initialize"
)

// Error envelope codes. These are the complete client-visible set.
const (
	codeMalformedRequest = "malformed_request"
	codeSessionNotFound  = "session_not_found"
	codeChannelClosed    = "channel_closed"
	codeTimeout          = "timeout"
	codeRateLimited      = "rate_limited"
	codeUpstreamFailure  = "upstream_failure"
	codeInternalError    = "internal_error"
)

// errorEnvelope is the structured body for transport-level rejections, before
// a JSON-RPC exchange is possible.
type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, data any) {
	if ct := w.Header().Get("Content-Type"); ct == "" || ct == jsonMediaType.String() {
		w.Header().Set("Content-Type", jsonMediaType.String())
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Code: code, Message: msg, Data: data})
}

const (
	defaultRateLimit     = 120
	defaultRateWindow    = time.Minute
	defaultIdleThreshold = 30 * time.Minute
	defaultReapInterval  = 30 * time.Second
)

// Option configures the Handler.
type Option func(*newConfig)

type newConfig struct {
	logger        *slog.Logger
	rateLimit     int
	rateWindow    time.Duration
	idleThreshold time.Duration
	reapInterval  time.Duration
	overridesFile string
}

// WithLogger sets the slog logger used by the server.
func WithLogger(l *slog.Logger) Option {
	return func(c *newConfig) { c.logger = l }
}

// WithRateLimit overrides the fixed-window admission parameters.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(c *newConfig) { c.rateLimit = limit; c.rateWindow = window }
}

// WithIdleThreshold overrides how long a session may sit idle before the
// reaper terminates it.
func WithIdleThreshold(d time.Duration) Option {
	return func(c *newConfig) {
		if d > 0 {
			c.idleThreshold = d
		}
	}
}

// WithReapInterval overrides the reaper's pass interval.
func WithReapInterval(d time.Duration) Option {
	return func(c *newConfig) {
		if d > 0 {
			c.reapInterval = d
		}
	}
}

// WithRateLimitOverridesFile hot-loads per-address limit overrides from a
// watched JSON file.
func WithRateLimitOverridesFile(path string) Option {
	return func(c *newConfig) { c.overridesFile = path }
}

// Handler is the HTTP front door. It owns the session registry, admission
// control, and the background reaper; the collaborator operation catalog and
// the result cache are injected.
type Handler struct {
	mux       *http.ServeMux
	log       *slog.Logger
	sessions  *registry.Registry
	limiter   *ratelimit.Limiter
	svc       service.Handler
	store     cache.Store
	reaper    *reaper.Reaper
	startedAt time.Time

	idleThreshold time.Duration
	closing       atomic.Bool
}

// New constructs a Handler serving the relay protocol at endpoint (a URL
// path like "/rpc"). The background reaper runs until ctx is canceled.
func New(ctx context.Context, endpoint string, svc service.Handler, store cache.Store, opts ...Option) (*Handler, error) {
	if svc == nil {
		return nil, fmt.Errorf("service handler is required")
	}
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	if endpoint == "" || endpoint[0] != '/' {
		return nil, fmt.Errorf("endpoint must be a rooted path, got %q", endpoint)
	}

	cfg := &newConfig{
		logger:        slog.Default(),
		rateLimit:     defaultRateLimit,
		rateWindow:    defaultRateWindow,
		idleThreshold: defaultIdleThreshold,
		reapInterval:  defaultReapInterval,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	log := slog.New(logctx.Handler{Handler: cfg.logger.Handler()})

	h := &Handler{
		log:           log,
		sessions:      registry.New(log),
		limiter:       ratelimit.New(cfg.rateLimit, cfg.rateWindow, ratelimit.WithLogger(log)),
		svc:           svc,
		store:         store,
		startedAt:     time.Now(),
		idleThreshold: cfg.idleThreshold,
	}

	if cfg.overridesFile != "" {
		if err := h.limiter.WatchOverrides(ctx, cfg.overridesFile); err != nil {
			return nil, fmt.Errorf("watch rate limit overrides: %w", err)
		}
	}

	h.reaper = reaper.New(cfg.reapInterval, reaper.WithLogger(log))
	h.reaper.Add("rate_windows", h.limiter.Sweep)
	h.reaper.Add("sessions", func(now time.Time) int {
		return h.sessions.SweepIdle(now, h.idleThreshold)
	})
	if sw, ok := store.(interface{ Sweep(now time.Time) int }); ok {
		h.reaper.Add("cache", sw.Sweep)
	}
	go func() {
		if err := h.reaper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("reaper.run.fail", slog.String("err", err.Error()))
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("POST %s", endpoint), h.handlePost)
	mux.HandleFunc(fmt.Sprintf("GET %s", endpoint), h.handleGetStream)
	mux.HandleFunc(fmt.Sprintf("DELETE %s", endpoint), h.handleDelete)
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.Handle("GET /metrics", h.metricsHandler())
	h.mux = mux

	return h, nil
}

// ServeHTTP dispatches requests, converting any panic in request handling to
// a structured error envelope so a failing operation never takes the process
// down.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})

	defer func() {
		if rec := recover(); rec != nil {
			h.log.ErrorContext(ctx, "http.panic",
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())))
			writeError(w, http.StatusInternalServerError, codeInternalError, "internal server error", nil)
		}
	}()

	if h.closing.Load() {
		writeError(w, http.StatusServiceUnavailable, codeChannelClosed, "server shutting down", nil)
		return
	}

	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// Shutdown stops intake of new requests and closes every open channel,
// failing their pending calls. Safe to call more than once.
func (h *Handler) Shutdown(ctx context.Context) {
	if h.closing.Swap(true) {
		return
	}
	h.log.InfoContext(ctx, "http.shutdown.start", slog.Int("active_sessions", h.sessions.Len()))
	h.sessions.CloseAll("server shutting down")
	h.log.InfoContext(ctx, "http.shutdown.ok")
}

// ActiveSessions reports the number of live sessions.
func (h *Handler) ActiveSessions() int { return h.sessions.Len() }

// admit consults admission control for the request's client address. On
// denial it writes the rate-limited envelope with a retry-after hint.
func (h *Handler) admit(w http.ResponseWriter, r *http.Request) bool {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	allowed, retryAfter := h.limiter.Admit(addr)
	if allowed {
		return true
	}
	secs := int(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	w.Header().Set(retryAfterHeader, strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded", map[string]any{
		"retry_after_seconds": secs,
	})
	h.log.InfoContext(r.Context(), "admission.denied", slog.String("addr", addr))
	return false
}

// resolveSession validates the session header format before any registry
// access, then resolves it. On failure the response is already written.
func (h *Handler) resolveSession(w http.ResponseWriter, r *http.Request) (*registry.Session, bool) {
	ctx := r.Context()
	sessID := r.Header.Get(sessionIDHeader)
	if sessID == "" {
		writeError(w, http.StatusBadRequest, codeMalformedRequest, "missing session id header", nil)
		h.log.WarnContext(ctx, "session.id.missing")
		return nil, false
	}
	if err := registry.ValidateID(sessID); err != nil {
		writeError(w, http.StatusBadRequest, codeMalformedRequest, "malformed session id", nil)
		h.log.WarnContext(ctx, "session.id.malformed")
		return nil, false
	}
	sess, err := h.sessions.Resolve(sessID)
	if err != nil {
		writeError(w, http.StatusNotFound, codeSessionNotFound, "session not found", nil)
		h.log.InfoContext(ctx, "session.resolve.miss", slog.String("session_id", sessID))
		return nil, false
	}
	return sess, true
}

// handlePost handles the POST verb: session initialization, inbound calls
// and notifications, and replies to server-issued calls.
func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.post.start")

	if !h.admit(w, r) {
		return
	}

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeError(w, http.StatusUnsupportedMediaType, codeMalformedRequest, "content-type must be application/json", nil)
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, codeMalformedRequest, "invalid JSON body", nil)
		h.log.WarnContext(ctx, "json.decode.fail", slog.String("err", err.Error()))
		return
	}
	if len(raw) > 0 && raw[0] == '[' {
		writeError(w, http.StatusBadRequest, codeMalformedRequest, "JSON-RPC batch arrays are not supported", nil)
		h.log.WarnContext(ctx, "jsonrpc.batch.forbidden")
		return
	}

	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		writeError(w, http.StatusBadRequest, codeMalformedRequest, "invalid JSON-RPC message: "+err.Error(), nil)
		h.log.WarnContext(ctx, "jsonrpc.message.invalid", slog.String("err", err.Error()))
		return
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	if r.Header.Get(sessionIDHeader) == "" {
		h.handleInitialize(ctx, w, &msg, start)
		return
	}

	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID()})

	if req := msg.AsRequest(); req != nil {
		if req.Method == initializeMethod {
			writeError(w, http.StatusConflict, codeMalformedRequest, "session already initialized", nil)
			h.log.WarnContext(ctx, "session.initialize.redundant")
			return
		}
		if req.ID.IsNil() {
			h.handleNotification(ctx, w, sess, req, start)
			return
		}
		h.handleCall(ctx, w, r, sess, req, start)
		return
	}

	if res := msg.AsResponse(); res != nil {
		sess.Channel().ResolveReply(ctx, res)
		w.WriteHeader(http.StatusAccepted)
		h.log.InfoContext(ctx, "reply.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	writeError(w, http.StatusBadRequest, codeMalformedRequest, "unrecognized JSON-RPC message", nil)
	h.log.WarnContext(ctx, "jsonrpc.message.unrecognized")
}

// handleInitialize creates a session for a POST carrying no session header.
// The allocated identifier is published only after the collaborator handler
// confirms initialization; on failure the session is discarded and was never
// routable.
func (h *Handler) handleInitialize(ctx context.Context, w http.ResponseWriter, msg *jsonrpc.AnyMessage, start time.Time) {
	req := msg.AsRequest()
	if req == nil || req.Method != initializeMethod || req.ID.IsNil() {
		writeError(w, http.StatusBadRequest, codeMalformedRequest, "expected initialize request", nil)
		h.log.InfoContext(ctx, "session.initialize.invalid")
		return
	}

	var params service.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			writeError(w, http.StatusBadRequest, codeMalformedRequest, "invalid initialize params", nil)
			h.log.InfoContext(ctx, "session.initialize.params.fail", slog.String("err", err.Error()))
			return
		}
	}

	sess := h.sessions.Create(h.svc)
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID()})

	initRes, err := h.svc.Initialize(ctx, &params)
	if err != nil {
		h.sessions.Discard(sess)
		writeError(w, http.StatusInternalServerError, codeUpstreamFailure, "failed to initialize session", nil)
		h.log.ErrorContext(ctx, "session.initialize.fail", slog.String("err", err.Error()))
		return
	}

	resp, err := jsonrpc.NewResultResponse(req.ID, initRes)
	if err != nil {
		h.sessions.Discard(sess)
		writeError(w, http.StatusInternalServerError, codeInternalError, "failed to encode initialize response", nil)
		h.log.ErrorContext(ctx, "session.initialize.encode.fail", slog.String("err", err.Error()))
		return
	}

	h.sessions.Publish(sess)

	w.Header().Set(sessionIDHeader, sess.ID())
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.ErrorContext(ctx, "session.initialize.write.fail", slog.String("err", err.Error()))
	}
	h.log.InfoContext(ctx, "session.initialize.ok", slog.Duration("dur", time.Since(start)))
}

// handleNotification dispatches a fire-and-forget inbound message. Handler
// failures are logged; the client gets 202 regardless since there is nothing
// to reply to.
func (h *Handler) handleNotification(ctx context.Context, w http.ResponseWriter, sess *registry.Session, req *jsonrpc.Request, start time.Time) {
	ctx = logctx.WithOperationData(ctx, &logctx.OperationData{Name: req.Method})
	caller := &sessionCaller{ch: sess.Channel()}
	if _, err := sess.Handler().HandleOperation(ctx, req.Method, req.Params, caller); err != nil {
		h.log.WarnContext(ctx, "notification.inbound.fail", slog.String("err", err.Error()))
	}
	w.WriteHeader(http.StatusAccepted)
	h.log.InfoContext(ctx, "notification.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// handleCall dispatches an inbound call to the collaborator handler. When
// the client accepts text/event-stream, the response is delivered as an SSE
// stream so server-issued calls raised by the handler can be written
// directly to this open response; otherwise the result is a plain JSON body
// and any server-issued calls queue on the session's event stream.
func (h *Handler) handleCall(ctx context.Context, w http.ResponseWriter, r *http.Request, sess *registry.Session, req *jsonrpc.Request, start time.Time) {
	ctx = logctx.WithOperationData(ctx, &logctx.OperationData{Name: req.Method})

	streaming := false
	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err == nil {
			streaming = true
		}
	}

	if !streaming {
		caller := &sessionCaller{ch: sess.Channel()}
		res := h.dispatch(ctx, sess, req, caller)
		w.Header().Set("Content-Type", jsonMediaType.String())
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(res); err != nil {
			h.log.ErrorContext(ctx, "rpc.response.write.fail", slog.String("err", err.Error()))
		}
		h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported", nil)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}
	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	// Direct writes ride the open response; failures fall back to the
	// session stream inside the channel so the message is not lost.
	writer := duplex.MessageWriterFunc(func(wCtx context.Context, msg jsonrpc.Message) error {
		return writeSSEEvent(wf, "", msg)
	})

	caller := &sessionCaller{ch: sess.Channel(), direct: writer}
	res := h.dispatch(ctx, sess, req, caller)

	b, err := json.Marshal(res)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := writeSSEEvent(wf, "", b); err != nil {
		// Connection gone; queue the response on the stream for reconnect.
		if _, perr := sess.Channel().Publish(b); perr != nil {
			h.log.ErrorContext(ctx, "rpc.response.fallback.fail", slog.String("err", perr.Error()))
		}
		return
	}
	h.log.InfoContext(ctx, "rpc.inbound.ok", slog.Duration("dur", time.Since(start)))
}

// dispatch runs the collaborator handler and maps its outcome onto a
// JSON-RPC response. Failures always produce a well-formed envelope.
func (h *Handler) dispatch(ctx context.Context, sess *registry.Session, req *jsonrpc.Request, caller service.Caller) *jsonrpc.Response {
	result, err := sess.Handler().HandleOperation(ctx, req.Method, req.Params, caller)
	if err != nil {
		h.log.WarnContext(ctx, "rpc.inbound.fail", slog.String("err", err.Error()))
		return errorResponseFor(req, err)
	}
	res, err := jsonrpc.NewResultResponse(req.ID, result)
	if err != nil {
		h.log.ErrorContext(ctx, "rpc.result.encode.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}
	return res
}

func errorResponseFor(req *jsonrpc.Request, err error) *jsonrpc.Response {
	var unknownOp *service.ErrUnknownOperation
	var opErr *service.OperationError
	var callErr *service.CallError
	switch {
	case errors.As(err, &unknownOp):
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, unknownOp.Error(), nil)
	case errors.Is(err, service.ErrCallTimeout):
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeCallTimeout, "call timed out awaiting reply", nil)
	case errors.Is(err, service.ErrChannelClosed):
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeChannelClosed, "channel closed", nil)
	case errors.As(err, &callErr):
		// The client refused or failed the server-issued call; that is an
		// upstream failure from the operation's point of view, not a server
		// bug.
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUpstreamFailure, callErr.Message, map[string]any{"client_code": callErr.Code})
	case errors.As(err, &opErr):
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeUpstreamFailure, opErr.Message, opErr.Data)
	default:
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "internal server error", nil)
	}
}

// handleGetStream attaches the session's single event-stream sink.
func (h *Handler) handleGetStream(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	if !h.admit(w, r) {
		return
	}

	if _, _, err := contenttype.GetAcceptableMediaType(r, eventStreamMediaTypes); err != nil {
		writeError(w, http.StatusUnsupportedMediaType, codeMalformedRequest, "accept must include text/event-stream", nil)
		h.log.WarnContext(ctx, "http.get.unsupported_media_type")
		return
	}

	f, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternalError, "streaming unsupported", nil)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	sess, ok := h.resolveSession(w, r)
	if !ok {
		return
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID()})

	resumeCursor := r.Header.Get(lastEventIDHeader)
	if err := duplex.ValidateCursor(resumeCursor); err != nil {
		writeError(w, http.StatusBadRequest, codeMalformedRequest, "invalid resume cursor", nil)
		h.log.WarnContext(ctx, "sse.stream.bad_cursor")
		return
	}

	wf := &lockedWriteFlusher{Writer: w, Flusher: f, ctx: ctx}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	wf.Flush()

	h.log.InfoContext(ctx, "sse.stream.start")

	err := sess.Channel().AttachStream(ctx, func(cbCtx context.Context, eventID string, data []byte) error {
		return writeSSEEvent(wf, eventID, data)
	}, resumeCursor)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
	case errors.Is(err, duplex.ErrBadCursor):
		// Headers are already committed; nothing more to send.
		h.log.WarnContext(ctx, "sse.stream.bad_cursor")
	default:
		h.log.ErrorContext(ctx, "sse.stream.fail", slog.String("err", err.Error()))
	}
}

// handleDelete terminates a session. Idempotent: a repeat delete observes
// session_not_found, which clients should treat as success.
func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.delete.start")

	if !h.admit(w, r) {
		return
	}

	sessID := r.Header.Get(sessionIDHeader)
	if sessID == "" {
		writeError(w, http.StatusBadRequest, codeMalformedRequest, "missing session id header", nil)
		return
	}
	if err := registry.ValidateID(sessID); err != nil {
		writeError(w, http.StatusBadRequest, codeMalformedRequest, "malformed session id", nil)
		return
	}

	if err := h.sessions.Terminate(sessID, "client requested termination"); err != nil {
		writeError(w, http.StatusNotFound, codeSessionNotFound, "session not found", nil)
		h.log.InfoContext(ctx, "session.delete.miss", slog.String("session_id", sessID))
		return
	}

	w.WriteHeader(http.StatusNoContent)
	h.log.InfoContext(ctx, "http.delete.ok", slog.Duration("dur", time.Since(start)))
}

// sessionCaller is the handler-facing view of one session's duplex channel,
// optionally bound to the originating request's direct write path.
type sessionCaller struct {
	ch     *duplex.Channel
	direct duplex.MessageWriter
}

func (c *sessionCaller) Call(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = service.DefaultCallTimeout
	}
	res, err := c.ch.IssueCall(ctx, method, params, timeout, c.direct)
	if err != nil {
		return nil, err
	}
	if res.Error != nil {
		return nil, &service.CallError{Code: int(res.Error.Code), Message: res.Error.Message}
	}
	return res.Result, nil
}

func (c *sessionCaller) Notify(ctx context.Context, method string, params any) error {
	note, err := jsonrpc.NewRequest(nil, method, params)
	if err != nil {
		return err
	}
	b, err := json.Marshal(note)
	if err != nil {
		return err
	}
	_, err = c.ch.Publish(b)
	return err
}

var _ service.Caller = (*sessionCaller)(nil)
