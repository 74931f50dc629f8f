package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/graph-gophers/graphql-go"

	"github.com/midnight-ntwrk/midnight-indexer/internal/apperr"
	"github.com/midnight-ntwrk/midnight-indexer/internal/config"
	"github.com/midnight-ntwrk/midnight-indexer/internal/pubsub"
	"github.com/midnight-ntwrk/midnight-indexer/internal/store"
	"github.com/midnight-ntwrk/midnight-indexer/internal/walletcrypto"
	"github.com/midnight-ntwrk/midnight-indexer/pkg/logging"
)

// Server serves the GraphQL HTTP endpoint, the subscription WebSocket
// endpoint, and the /ready and /health probes.
type Server struct {
	store    *store.Store
	bus      pubsub.Bus
	cfg      config.API
	log      *logging.Logger
	resolver *Resolver
	schema   *graphql.Schema

	httpServer *http.Server
	listener   net.Listener
}

// NewServer wires the resolver and parses the schema, failing fast if the
// schema itself is malformed (a build-time bug, not a runtime condition).
func NewServer(st *store.Store, box *walletcrypto.Box, bus pubsub.Bus, cfg config.API, log *logging.Logger) (*Server, error) {
	resolver := NewResolver(st, box, bus, log)
	schema, err := newSchema(resolver)
	if err != nil {
		return nil, fmt.Errorf("api: parse schema: %w", err)
	}
	return &Server{store: st, bus: bus, cfg: cfg, log: log, resolver: resolver, schema: schema}, nil
}

// Start begins serving on addr. It returns once the listener is bound; the
// HTTP server itself runs in a background goroutine.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: listen on %s: %w", addr, err)
	}
	s.listener = listener

	base := "/api/" + s.cfg.SchemaVersion + "/graphql"
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+base, s.handleGraphQL)
	mux.HandleFunc("OPTIONS "+base, s.handleCORS)
	mux.HandleFunc("GET "+base+"/ws", s.handleWS)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("api server error", "error", err)
		}
	}()

	s.log.Info("api server started", "addr", addr, "ws", "ws://"+addr+base+"/ws")
	return nil
}

// Stop gracefully shuts the HTTP server down, letting in-flight requests
// finish but not accepting new ones.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

type graphQLRequest struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName"`
	Variables     map[string]any `json:"variables"`
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	if err := checkQueryLimits(req.Query, s.cfg.MaxDepth, s.cfg.MaxComplexity); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	resp := s.schema.Exec(ctx, req.Query, req.OperationName, req.Variables)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error("encode graphql response", "error", err)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.store.Ready(r.Context()) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleCORS(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"errors": []map[string]string{{"message": message}},
	})
}

// corsMiddleware allows any origin, matching a public read-mostly API with
// no cookie-based auth (sessions are opaque bearer tokens in the request
// body, not cookies).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkQueryLimits is a pragmatic stand-in for a real cost-analysis pass
// over the parsed query AST: it takes the deepest '{' nesting as the depth
// and the number of newlines in the query text as a complexity proxy,
// cheaply, without pulling in a full query-cost library the corpus never
// reaches for.
func checkQueryLimits(query string, maxDepth, maxComplexity int) error {
	depth, maxSeen, fieldCount := 0, 0, 0
	for _, r := range query {
		switch r {
		case '{':
			depth++
			if depth > maxSeen {
				maxSeen = depth
			}
		case '}':
			depth--
		}
	}
	for _, r := range query {
		if r == '\n' {
			fieldCount++
		}
	}
	if maxDepth > 0 && maxSeen > maxDepth {
		return apperr.New(apperr.KindClientInput, "query exceeds max depth")
	}
	if maxComplexity > 0 && fieldCount > maxComplexity {
		return apperr.New(apperr.KindClientInput, "query exceeds max complexity")
	}
	return nil
}
