package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sanonone/jsonqueryflow/pkg/engine"
	"github.com/sanonone/jsonqueryflow/pkg/graph"
	"github.com/sanonone/jsonqueryflow/pkg/orchestrator"
	"github.com/sanonone/jsonqueryflow/pkg/prompt"
	"github.com/sanonone/jsonqueryflow/pkg/schemalite"
)

// registerHTTPHandlers sets up the REST routes.
func (s *Server) registerHTTPHandlers(mux *http.ServeMux) {
	// --- Service ---
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /query", s.RateLimited(s.handleQuery))
	mux.HandleFunc("POST /jsonata", s.handleEcho)

	// --- Graph session ---
	mux.HandleFunc("GET /graph", s.handleGetGraph)
	mux.HandleFunc("POST /graph/nodes", s.handleCreateNode)
	mux.HandleFunc("PATCH /graph/nodes/{id}", s.handlePatchNode)
	mux.HandleFunc("DELETE /graph/nodes/{id}", s.handleDeleteNode)
	mux.HandleFunc("POST /graph/connect", s.handleConnect)
	mux.HandleFunc("POST /graph/changes/nodes", s.handleNodeChanges)
	mux.HandleFunc("POST /graph/changes/edges", s.handleEdgeChanges)
	mux.HandleFunc("POST /graph/nodes/{id}/run", s.handleRunNode)
	mux.HandleFunc("POST /graph/nodes/{id}/generate", s.RateLimited(s.handleGenerateNode))
	mux.HandleFunc("GET /graph/nodes/{id}/schema", s.handleNodeSchema)
	mux.HandleFunc("GET /graph/nodes/{id}/views", s.handleNodeViews)
}

// --- Service handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, HealthResponse{Status: "ok", Service: s.cfg.ServiceName})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		s.writeHTTPError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	// 1. Read and validate the shape before anything reaches a model.
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := s.querySchema.Validate(raw); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}

	var req QueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeHTTPError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	if s.generator == nil {
		s.writeError(w, r, engine.ErrNoGenerator)
		return
	}

	// 2. Prompt and models
	text, err := prompt.Build(req.Schema, req.Query)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.generator.Generate(r.Context(), text, orchestrator.Options{
		PreferLocal: req.UseLocalModel,
		APIKey:      callerAPIKey(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeHTTPResponse(w, http.StatusOK, newGenerationResponse(res))
}

func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	var body any
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, EchoResponse{Received: body})
}

// --- Graph handlers ---

func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	s.writeHTTPResponse(w, http.StatusOK, s.engine.Store().Snapshot())
}

func (s *Server) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	kind, err := graph.ParseKind(req.Kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := graph.DecodeData(kind, req.Data)
	if err != nil {
		s.writeError(w, r, badRequest(err.Error()))
		return
	}

	id, err := s.engine.Store().AddNode(kind, req.Position, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusCreated, CreateNodeResponse{ID: id})
}

func (s *Server) handlePatchNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var patch graph.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}

	err := s.engine.Store().Update(func(tx *graph.Tx) error {
		if _, ok := tx.Node(id); !ok {
			return graph.ErrNodeNotFound
		}
		return tx.PatchNodeData(id, patch)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	err := s.engine.Store().Update(func(tx *graph.Tx) error {
		if !tx.RemoveNode(id) {
			return graph.ErrNodeNotFound
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req graph.ConnectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Source == "" {
		s.writeHTTPError(w, http.StatusBadRequest, "source is required")
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, s.engine.Store().Connect(req))
}

func (s *Server) handleNodeChanges(w http.ResponseWriter, r *http.Request) {
	var changes []graph.NodeChange
	if err := decodeJSON(w, r, &changes); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.engine.Store().OnNodesChange(changes)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEdgeChanges(w http.ResponseWriter, r *http.Request) {
	var changes []graph.EdgeChange
	if err := decodeJSON(w, r, &changes); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.engine.Store().OnEdgesChange(changes)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRunNode(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Run(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, s.engine.Store().Snapshot())
}

func (s *Server) handleGenerateNode(w http.ResponseWriter, r *http.Request) {
	var req GenerateNodeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}

	res, err := s.engine.Generate(r.Context(), r.PathValue("id"), engine.GenerateOptions{
		PreferLocal: req.UseLocalModel,
		ModelID:     req.Model,
		APIKey:      callerAPIKey(r),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, newGenerationResponse(res))
}

func (s *Server) handleNodeSchema(w http.ResponseWriter, r *http.Request) {
	sc, err := s.engine.Store().Schema(r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeHTTPResponse(w, http.StatusOK, sc)
}

func (s *Server) handleNodeViews(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	n, ok := s.engine.Store().Node(id)
	if !ok {
		s.writeError(w, r, graph.ErrNodeNotFound)
		return
	}
	d, ok := n.DataNode()
	if !ok {
		s.writeError(w, r, graph.ErrInvalidKind)
		return
	}
	mode := schemalite.ParseMode(r.URL.Query().Get("mode"))
	s.writeHTTPResponse(w, http.StatusOK, schemalite.Analyze(d.Value, mode))
}

// --- Request helpers ---

func isJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Content-Type"), "application/json")
}

// callerAPIKey returns the provider key supplied by the caller, if any.
func callerAPIKey(r *http.Request) string {
	if k := r.Header.Get(headerGoogAPIKey); k != "" {
		return k
	}
	return r.Header.Get(headerGoogleAIKey)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &HTTPError{Status: http.StatusRequestEntityTooLarge, Message: "request body too large"}
		}
		return nil, badRequest("could not read request body")
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return badRequest("Invalid JSON body")
	}
	return nil
}

// --- HTTP response helpers ---

func (s *Server) writeHTTPResponse(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeHTTPError(w http.ResponseWriter, statusCode int, message string) {
	s.writeHTTPResponse(w, statusCode, map[string]string{"error": message})
}
