package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mcpbus-io/mcpresume/config"
	"github.com/mcpbus-io/mcpresume/jsonrpc"
	"github.com/mcpbus-io/mcpresume/storages"
	"github.com/mcpbus-io/mcpresume/storages/events"
	"github.com/mcpbus-io/mcpresume/storages/sessions"
	"github.com/mcpbus-io/mcpresume/utils"
)

const (
	mcpVersion         = "2025-03-26"
	mcpSessionIdHeader = "Mcp-Session-Id"

	mpcMethodInitialize  = "initialize"
	mpcMethodInitialized = "notifications/initialized"
	mpcMethodPing        = "ping"

	lastEventIdHeader = "Last-Event-Id"

	eventStreamContentType = "text/event-stream"
	jsonContentType        = "application/json"

	ServerName    = "MCPResume"
	ServerVersion = "0.1.0"
)

var supportedProtocolVersions = []string{"2025-03-26", "2024-11-05"}

type StreamableServer struct {
	conf      *config.Config
	mcpServer *mcpserver.MCPServer
	sessions  *sessions.Registry[*Transport]
	events    events.Store // nil disables resumption
	handler   http.Handler
}

// NewStreamableServer builds the server. store may be nil, and is ignored
// when streaming or stream resumption is disabled.
func NewStreamableServer(conf *config.Config, store events.Store) *StreamableServer {
	hooks := &mcpserver.Hooks{}

	hooks.AddBeforeAny(func(ctx context.Context, id any, method mcptypes.MCPMethod, message any) {
		log.WithFields(log.Fields{"method": method, "id": id}).Debug("Handling MCP method")
	})
	hooks.AddOnError(func(ctx context.Context, id any, method mcptypes.MCPMethod, message any, err error) {
		log.WithError(err).WithFields(log.Fields{"method": method, "id": id}).Warn("MCP method failed")
	})
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcptypes.CallToolRequest, result *mcptypes.CallToolResult) {
		if result != nil {
			log.WithFields(log.Fields{"tool": message.Params.Name, "id": id, "is_error": result.IsError}).Debug("Tool called")
		}
	})

	if conf.DisableStreaming || conf.DisableStreamResume {
		store = nil
	}

	server := &StreamableServer{
		conf: conf,
		mcpServer: mcpserver.NewMCPServer(
			ServerName,
			ServerVersion,
			mcpserver.WithHooks(hooks),
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithPromptCapabilities(false),
			mcpserver.WithLogging(),
		),
		sessions: sessions.NewRegistry[*Transport](),
		events:   store,
	}
	registerBuiltins(server.mcpServer)

	// configure CORS
	var c *cors.Cors
	if conf.Cors != nil {
		c = cors.New(cors.Options{
			AllowedOrigins: conf.Cors.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{mcpSessionIdHeader},
		})
	} else {
		c = cors.AllowAll()
	}
	c.Log = log.StandardLogger()

	mux := http.NewServeMux()
	mux.Handle(conf.McpEndpoint, c.Handler(http.HandlerFunc(server.mainHandler)))
	server.handler = mux

	return server
}

func (s *StreamableServer) Handler() http.Handler {
	return s.handler
}

func (s *StreamableServer) Sessions() *sessions.Registry[*Transport] {
	return s.sessions
}

// Run serves HTTP until ctx is cancelled, then stops accepting requests and
// closes every session. Connection pools are the caller's to shut down after.
func (s *StreamableServer) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.conf.Addr, s.conf.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// open SSE responses only end once their sessions close
	httpServer.RegisterOnShutdown(s.sessions.CloseAll)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if s.conf.Tls != nil {
			err = httpServer.ListenAndServeTLS(s.conf.Tls.CertFile, s.conf.Tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		s.reapIdleSessions(gctx, s.conf.Durations.SessionIdleTimeout)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down MCP server")

		shutdownCtx := context.Background()
		if s.conf.Durations.ShutdownTimeout > 0 {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(shutdownCtx, s.conf.Durations.ShutdownTimeout)
			defer cancel()
		}
		err := httpServer.Shutdown(shutdownCtx)
		// sessions created while shutting down
		s.sessions.CloseAll()
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("Shutdown timed out with requests still running")
			return nil
		}
		return err
	})

	return g.Wait()
}

func (s *StreamableServer) reapIdleSessions(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		return
	}
	ticker := time.NewTicker(min(timeout/2, time.Minute))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.closeIdleSessions(now, timeout)
		}
	}
}

func (s *StreamableServer) closeIdleSessions(now time.Time, timeout time.Duration) int {
	closed := 0
	for _, transport := range s.sessions.Snapshot() {
		if idle := transport.idleFor(now); idle > timeout {
			log.WithFields(transport.logFields()).WithField("idle", idle.String()).Info("Closing idle session")
			_ = transport.Close()
			closed++
		}
	}
	return closed
}

func (s *StreamableServer) addCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("Server", ServerName+"/"+ServerVersion)
}

func (s *StreamableServer) mainHandler(w http.ResponseWriter, r *http.Request) {
	log.WithFields(log.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.UserAgent(),
	}).Debug("Handling request")

	s.addCommonHeaders(w)

	if !s.authenticateRequest(w, r) {
		log.WithField("remote_addr", r.RemoteAddr).Warn("Authentication failed")
		return
	}

	switch r.Method {
	case http.MethodPost: // new JSON-RPC message
		s.handlePostRequest(w, r)
	case http.MethodGet: // the client wants to open or resume an SSE stream
		s.handleGetRequest(w, r)
	case http.MethodDelete: // the client wants to delete MCP-session
		s.handleDeleteRequest(w, r)
	default: // the supplied method is not supported
		s.handleUnsupportedRequest(w, r)
	}
}

// accepts reports whether every one of mediaTypes appears in the Accept header.
func accepts(r *http.Request, mediaTypes ...string) bool {
	var accepted []string
	for _, value := range r.Header.Values("Accept") {
		for _, part := range strings.Split(value, ",") {
			mediaType, _, _ := strings.Cut(part, ";")
			accepted = append(accepted, strings.TrimSpace(mediaType))
		}
	}
	for _, mediaType := range mediaTypes {
		if !slices.Contains(accepted, mediaType) {
			return false
		}
	}
	return true
}

func (s *StreamableServer) handlePostRequest(w http.ResponseWriter, r *http.Request) {
	// check that both application/json and text/event-stream are accepted
	if !accepts(r, jsonContentType, eventStreamContentType) {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Accept header must contain application/json and text/event-stream", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusNotAcceptable,
		)
		return
	}

	// check content-type header
	if contentType, _, _ := strings.Cut(r.Header.Get("Content-Type"), ";"); strings.TrimSpace(contentType) != jsonContentType {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Content-Type must be application/json", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusUnsupportedMediaType,
		)
		return
	}

	// read the request body
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Failed to read request body", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusInternalServerError,
		)
		return
	}
	defer r.Body.Close()

	payload, err := jsonrpc.Decode(body)
	if err != nil {
		log.WithError(err).Debug("Invalid JSON-RPC message")
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Invalid JSON-RPC message", jsonrpc.ErrorCode(err), nil, nil),
			http.StatusBadRequest,
		)
		return
	}

	// a batch needs an established session
	if payload.Batch {
		if transport := s.validateSession(w, r); transport != nil {
			s.processBatchRequest(w, r, transport, payload)
		}
		return
	}

	message := payload.Messages[0]
	switch message.Kind {
	case jsonrpc.KindRequest:
		switch message.Method {
		case mpcMethodInitialize:
			s.processInitializeRequest(w, r, message)
		case mpcMethodPing:
			s.processPingRequest(w, r, message.Id)
		default:
			if transport := s.validateSession(w, r); transport != nil {
				s.processRequests(w, r, transport, payload.Raw(), false)
			}
		}
	case jsonrpc.KindResponse:
		if transport := s.validateSession(w, r); transport != nil {
			s.processSingleResponse(w, transport)
		}
	case jsonrpc.KindNotification:
		if transport := s.validateSession(w, r); transport != nil {
			s.processSingleNotification(w, r, transport, message.Method, message.Raw)
		}
	}
}

func (s *StreamableServer) processPingRequest(w http.ResponseWriter, r *http.Request, id any) {
	// a ping inside a session counts as activity
	if sessionId := r.Header.Get(mcpSessionIdHeader); sessionId != "" {
		if transport, err := s.sessions.Resolve(sessionId); err == nil {
			transport.touch()
			w.Header().Set(mcpSessionIdHeader, sessionId)
		}
	}

	s.writeJson(w, &jsonrpc.Response{
		JsonRpc: jsonrpc.JsonRpcVersion,
		Id:      id,
		Result:  &struct{}{},
	}, http.StatusOK)
}

func (s *StreamableServer) processInitializeRequest(w http.ResponseWriter, r *http.Request, message jsonrpc.Message) {
	// an initialize carrying a session id is never treated as a new session
	if _, present := r.Header[mcpSessionIdHeader]; present {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse(
				"Mcp-Session-Id header must not be provided for initialize-request",
				jsonrpc.ERROR_INVALID_REQUEST, nil, nil),
			http.StatusBadRequest,
		)
		return
	}

	request := initializeRequest{}
	if err := json.Unmarshal(message.Raw, &request); err != nil {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Failed to parse initialize-request", jsonrpc.ERROR_PARSE, nil, nil),
			http.StatusBadRequest,
		)
		return
	}

	sessionId, transport, err := s.sessions.Create(func(sessionId string, hooks sessions.Hooks) (*Transport, error) {
		return newTransport(sessionId, hooks, s.events, s.conf.StreamBufferSize), nil
	})
	if err != nil {
		log.WithError(err).Error("Failed to create a session")
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Failed to create a session", jsonrpc.ERROR_SERVER, nil, message.Id),
			http.StatusInternalServerError,
		)
		return
	}

	protocolVersion := mcpVersion
	if slices.Contains(supportedProtocolVersions, request.Params.ProtocolVersion) {
		protocolVersion = request.Params.ProtocolVersion
	}

	initializeResponse := InitializeResponse{
		JsonRpc: jsonrpc.JsonRpcVersion,
		Id:      message.Id,
		Result: &initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo: &serverInfo{
				Name:    ServerName,
				Version: ServerVersion,
			},
			Capabilities: &serverCapabilities{
				Logging: &struct{}{},
				Prompts: &serverCap{},
				Tools:   &serverCap{},
			},
		},
	}

	respBody, err := json.Marshal(initializeResponse)
	if err != nil {
		log.WithError(err).Error("Failed to marshal initialize-reply")
		_ = transport.Close()
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Failed to marshal initialize-reply", jsonrpc.ERROR_SERVER, nil, message.Id),
			http.StatusInternalServerError,
		)
		return
	}

	transport.markInitialized(request.Params.ClientInfo)
	log.WithFields(transport.logFields()).WithField("protocol_version", protocolVersion).Info("Session initialized")

	// we have a good session now, so add mcp-session-id header
	w.Header().Set(mcpSessionIdHeader, sessionId)
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintln(w, string(respBody)); err != nil {
		log.WithError(err).Error("Failed to write initialize-reply")
	}
}

func (s *StreamableServer) processSingleResponse(w http.ResponseWriter, transport *Transport) {
	// the server sends no requests that expect an answer besides pings
	w.Header().Set(mcpSessionIdHeader, transport.SessionID())
	w.WriteHeader(http.StatusAccepted)
}

func (s *StreamableServer) processSingleNotification(w http.ResponseWriter, r *http.Request, transport *Transport, method string, body []byte) {
	if method == mpcMethodInitialized {
		transport.markClientReady()
	}
	if result := s.mcpServer.HandleMessage(r.Context(), body); result != nil {
		log.WithFields(log.Fields{"session_id": transport.SessionID(), "method": method}).Warnf("Unexpected reply to a notification: %v", result)
	}

	w.Header().Set(mcpSessionIdHeader, transport.SessionID())
	w.WriteHeader(http.StatusAccepted)
}

func (s *StreamableServer) processBatchRequest(w http.ResponseWriter, r *http.Request, transport *Transport, payload *jsonrpc.Payload) {
	if !payload.HasRequests() {
		// only notifications and responses, nothing to stream back
		ctx := context.WithoutCancel(r.Context())
		go func() {
			for _, message := range payload.Messages {
				if message.Method == mpcMethodInitialized {
					transport.markClientReady()
				}
				if res := s.mcpServer.HandleMessage(ctx, message.Raw); res != nil {
					log.WithField("session_id", transport.SessionID()).Debugf("Reply to a notification or response: %v", res)
				}
			}
		}()
		w.Header().Set(mcpSessionIdHeader, transport.SessionID())
		w.WriteHeader(http.StatusAccepted)
		return
	}

	s.processRequests(w, r, transport, payload.Raw(), true)
}

// processRequests answers requests either as one JSON body or, by default,
// over a new SSE stream that also carries notifications raised while handling them.
func (s *StreamableServer) processRequests(w http.ResponseWriter, r *http.Request, transport *Transport, batch []json.RawMessage, isBatch bool) {
	if s.conf.DisableStreaming {
		results := make([]any, 0, len(batch))
		for _, rawMessage := range batch {
			if res := s.mcpServer.HandleMessage(r.Context(), rawMessage); res != nil {
				results = append(results, res)
			}
		}
		w.Header().Set(mcpSessionIdHeader, transport.SessionID())
		switch {
		case isBatch:
			s.writeJson(w, results, http.StatusOK)
		case len(results) == 1:
			s.writeJson(w, results[0], http.StatusOK)
		default:
			w.WriteHeader(http.StatusAccepted)
		}
		return
	}

	sse, ok := newSSEWriter(w, transport.SessionID())
	if !ok {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Streaming is not supported by the connection", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusInternalServerError,
		)
		return
	}

	stream := transport.OpenStream()
	_ = stream.Attach() // a fresh stream has no listener yet
	defer stream.Detach()

	defer transport.listen()()

	ctx, cancel := s.processingContext(r, transport)
	go func() {
		defer cancel()
		s.process(ctx, transport, stream, batch)
	}()

	sse.start()
	s.pumpStream(r, transport, stream, sse, nil)
}

// processingContext outlives the HTTP request when the stream is resumable so
// work finishes and lands in the event log after a disconnect. Closing the
// session always cancels it.
func (s *StreamableServer) processingContext(r *http.Request, transport *Transport) (context.Context, context.CancelFunc) {
	base := r.Context()
	if transport.Resumable() {
		base = context.WithoutCancel(base)
	}
	ctx, cancel := context.WithCancel(base)
	stop := context.AfterFunc(transport.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *StreamableServer) process(ctx context.Context, transport *Transport, stream *Stream, batch []json.RawMessage) {
	defer transport.finishStream(stream)

	ctx = withNotifier(ctx, &notifier{transport: transport, stream: stream})
	for _, rawMessage := range batch {
		result := s.mcpServer.HandleMessage(ctx, rawMessage)
		if result == nil {
			continue
		}
		if err := transport.Send(ctx, stream, result); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"session_id": transport.SessionID(),
				"stream_id":  stream.Id,
			}).Warn("Failed to send a reply")
		}
	}

	log.WithFields(log.Fields{
		"session_id":      transport.SessionID(),
		"stream_id":       stream.Id,
		"num_of_messages": len(batch),
	}).Debug("Messages processed")
}

// pumpStream writes stream messages to the SSE response until the stream is
// finished and drained, the client goes away or the session closes. Messages
// whose event id is in skip were already written.
func (s *StreamableServer) pumpStream(r *http.Request, transport *Transport, stream *Stream, sse *sseWriter, skip map[string]struct{}) {
	write := func(message *Message) bool {
		if _, dup := skip[message.EventId]; dup && message.EventId != "" {
			return true
		}
		if err := sse.writeEvent(message.EventId, message.Data); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"session_id": transport.SessionID(),
				"stream_id":  stream.Id,
			}).Debug("Failed to write an SSE event")
			return false
		}
		return true
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-transport.Done():
			return
		case message := <-stream.Messages():
			if !write(message) {
				return
			}
		case <-stream.Finished():
			for {
				select {
				case message := <-stream.Messages():
					if !write(message) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *StreamableServer) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	if !accepts(r, eventStreamContentType) {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Accept header must contain text/event-stream", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusNotAcceptable,
		)
		return
	}

	transport := s.validateSession(w, r)
	if transport == nil {
		return
	}

	sse, ok := newSSEWriter(w, transport.SessionID())
	if !ok {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Streaming is not supported by the connection", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusInternalServerError,
		)
		return
	}

	// a Last-Event-Id asks to resume a stream rather than open the standalone one
	if lastEventId := r.Header.Get(lastEventIdHeader); lastEventId != "" {
		s.resumeStream(w, r, transport, sse, lastEventId)
		return
	}

	standalone := transport.Standalone()
	if err := standalone.Attach(); err != nil {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse(
				"Standalone SSE stream is already open. Only one standalone SSE stream is allowed per session",
				jsonrpc.ERROR_SERVER,
				nil,
				nil,
			),
			http.StatusConflict,
		)
		return
	}
	defer standalone.Detach()

	defer transport.listen()()

	if s.conf.KeepAlivePing && s.conf.Durations.KeepAliveInterval > 0 {
		go s.startPinger(r.Context(), transport, standalone)
	}

	sse.start()
	s.pumpStream(r, transport, standalone, sse, nil)
}

func (s *StreamableServer) resumeStream(w http.ResponseWriter, r *http.Request, transport *Transport, sse *sseWriter, lastEventId string) {
	fields := log.Fields{"session_id": transport.SessionID(), "last_event_id": lastEventId}

	if !transport.Resumable() {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Stream resumption is disabled", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusBadRequest,
		)
		return
	}

	streamId := events.StreamIdOf(lastEventId)
	if streamId == "" {
		log.WithFields(fields).Debug("Unparseable Last-Event-Id")
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Invalid Last-Event-Id header value", jsonrpc.ERROR_INVALID_REQUEST, nil, nil),
			http.StatusBadRequest,
		)
		return
	}
	if !transport.Owns(streamId) {
		log.WithFields(fields).Debug("Last-Event-Id refers to a stream of another session")
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Stream not found", jsonrpc.ERROR_NOT_FOUND, nil, nil),
			http.StatusNotFound,
		)
		return
	}

	// attach before replaying so nothing published meanwhile is missed
	var unrecorded []*Message
	live := transport.liveStream(streamId)
	if live != nil {
		if err := live.Attach(); err != nil {
			s.writeJsonError(
				w,
				jsonrpc.GetErrorResponse("Stream already has a listener", jsonrpc.ERROR_SERVER, nil, nil),
				http.StatusConflict,
			)
			return
		}
		defer live.Detach()

		// recorded messages left over from an earlier listener may precede the
		// cursor; the replay below delivers those after it, in order
		for _, message := range live.drain() {
			if message.EventId == "" {
				unrecorded = append(unrecorded, message)
			}
		}
	}

	defer transport.listen()()

	replayed := make(map[string]struct{})
	replayedStream, err := transport.events.ReplayAfter(r.Context(), lastEventId, func(ctx context.Context, eventID string, payload []byte) error {
		if !json.Valid(payload) {
			return storages.DataIntegrity(nil, "stored event is not valid JSON")
		}
		replayed[eventID] = struct{}{}
		return sse.writeEvent(eventID, payload)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.WithError(err).WithFields(fields).Error("Failed to replay events")
		if !sse.started {
			s.writeJsonError(
				w,
				jsonrpc.GetErrorResponse("Failed to replay events", jsonrpc.ERROR_SERVER, nil, nil),
				http.StatusInternalServerError,
			)
		}
		return
	}
	if replayedStream == "" {
		log.WithFields(fields).Debug("Last-Event-Id is not in the event log")
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Event not found", jsonrpc.ERROR_NOT_FOUND, nil, nil),
			http.StatusNotFound,
		)
		return
	}

	log.WithFields(fields).WithFields(log.Fields{
		"stream_id": streamId,
		"replayed":  len(replayed),
		"live":      live != nil,
	}).Info("Stream resumed")

	sse.start()
	if live == nil {
		return
	}
	for _, message := range unrecorded {
		if err := sse.writeEvent("", message.Data); err != nil {
			log.WithError(err).WithFields(fields).Debug("Failed to write an SSE event")
			return
		}
	}
	s.pumpStream(r, transport, live, sse, replayed)
}

func (s *StreamableServer) startPinger(ctx context.Context, transport *Transport, stream *Stream) {
	ticker := time.NewTicker(s.conf.Durations.KeepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-transport.Done():
			return
		case <-ticker.C:
			data, err := json.Marshal(&jsonrpc.Request{
				JsonRpc: jsonrpc.JsonRpcVersion,
				Id:      utils.NewMessageId(),
				Method:  mpcMethodPing,
			})
			if err != nil {
				log.WithError(err).Error("Failed to marshal a ping")
				return
			}
			// pings are not recorded, they mean nothing on replay
			if err := stream.Publish(ctx, &Message{Data: data}); err != nil {
				log.WithError(err).WithField("session_id", transport.SessionID()).Debug("Failed to send a ping")
			}
		}
	}
}

func (s *StreamableServer) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	transport := s.validateSession(w, r)
	if transport == nil {
		return
	}

	// the registry drops the session when the transport reports it closed
	if err := transport.Close(); err != nil {
		log.WithError(err).WithField("session_id", transport.SessionID()).Error("Failed to close a session")
	}
	log.WithField("session_id", transport.SessionID()).Info("Session deleted by client")

	w.WriteHeader(http.StatusOK)
}

func (s *StreamableServer) handleUnsupportedRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Allow", "POST, GET, DELETE")
	s.writeJsonError(
		w,
		jsonrpc.GetErrorResponse("Method not allowed", jsonrpc.ERROR_SERVER, nil, nil),
		http.StatusMethodNotAllowed,
	)
}

func (s *StreamableServer) writeJsonError(w http.ResponseWriter, response *jsonrpc.Response, httpCode int) {
	s.writeJson(w, response, httpCode)
}

func (s *StreamableServer) writeJson(w http.ResponseWriter, response any, httpCode int) {
	responseJson, err := json.Marshal(response)
	if err != nil {
		log.WithError(err).Error("Failed to marshal a reply")
		httpCode = http.StatusInternalServerError
		responseJson, _ = json.Marshal(jsonrpc.GetErrorResponse("Failed to marshal a reply", jsonrpc.ERROR_INTERNAL, nil, nil))
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(httpCode)
	if _, err := fmt.Fprintln(w, string(responseJson)); err != nil {
		log.WithError(err).Error("Failed to write a reply")
	}
}

// validateSession resolves the Mcp-Session-Id header to a live transport.
// Unknown and closed sessions get 404, never a fresh session.
func (s *StreamableServer) validateSession(w http.ResponseWriter, r *http.Request) *Transport {
	sessionId, present := r.Header[mcpSessionIdHeader]
	if !present {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Mcp-Session-Id header must be provided", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusBadRequest,
		)
		return nil
	}
	if len(sessionId) > 1 {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Mcp-Session-Id header must contain one value", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusBadRequest,
		)
		return nil
	}
	if !utils.IsVisibleASCII(sessionId[0]) {
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Mcp-Session-Id header is malformed", jsonrpc.ERROR_SERVER, nil, nil),
			http.StatusBadRequest,
		)
		return nil
	}

	transport, err := s.sessions.Resolve(sessionId[0])
	if err != nil {
		log.WithError(err).WithField("session_id", sessionId[0]).Debug("Could not find a session")
		s.writeJsonError(
			w,
			jsonrpc.GetErrorResponse("Session not found", jsonrpc.ERROR_NOT_FOUND, nil, nil),
			http.StatusNotFound,
		)
		return nil
	}

	transport.touch()
	return transport
}
