package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caseflow-io/caseflow/internal/config"
	"github.com/caseflow-io/caseflow/internal/log"
	"github.com/caseflow-io/caseflow/internal/rest/middleware"
	"github.com/caseflow-io/caseflow/pkg/engine"
	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/storage"
)

type Server struct {
	engine *engine.Engine
	addr   string
	server *http.Server
}

func NewServer(e *engine.Engine, conf config.Config) *Server {
	r := chi.NewRouter()
	s := Server{
		engine: e,
		addr:   conf.Server.Addr,
		server: &http.Server{
			ReadHeaderTimeout: 3 * time.Second,
			Handler:           r,
			Addr:              conf.Server.Addr,
		},
	}
	r.Use(middleware.Cors())
	r.Use(middleware.Opentelemetry(conf))
	r.Use(middleware.StripEmptyQueryParams())
	r.Route("/v1", func(r chi.Router) {
		r.Post("/specifications", s.deploySpecification)
		r.Get("/specifications/{id}", s.getSpecifications)

		r.Post("/cases", s.launchCase)
		r.Get("/cases/{key}", s.getCase)
		r.Delete("/cases/{key}", s.cancelCase)
		r.Get("/cases/{key}/history", s.getCaseHistory)

		r.Get("/work-items", s.listWorkItems)
		r.Get("/work-items/{key}", s.getWorkItem)
		r.Post("/work-items/{key}/offer", s.offerWorkItem)
		r.Post("/work-items/{key}/claim", s.claimWorkItem)
		r.Post("/work-items/{key}/start", s.startWorkItem)
		r.Post("/work-items/{key}/suspend", s.suspendWorkItem)
		r.Post("/work-items/{key}/resume", s.resumeWorkItem)
		r.Post("/work-items/{key}/checkpoint", s.checkpointWorkItem)
		r.Post("/work-items/{key}/delegate", s.delegateWorkItem)
		r.Post("/work-items/{key}/deallocate", s.deallocateWorkItem)
		r.Post("/work-items/{key}/complete", s.completeWorkItem)
		r.Post("/work-items/{key}/fail", s.failWorkItem)
		r.Post("/work-items/{key}/cancel", s.cancelWorkItem)
		r.Post("/work-items/{key}/resolve", s.resolveWorkItem)

		r.Post("/instance-groups/{key}/instances", s.addInstance)
	})
	// system endpoints
	r.Route("/system", func(r chi.Router) {
		r.Get("/metrics", promhttp.Handler().ServeHTTP)
		r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{
				"engine": e.Name(),
				"status": "up",
			})
		})
	})
	return &s
}

func (s *Server) Start() net.Listener {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		log.Error("failed to listen: %v", err)
	}
	log.Info("Caseflow REST server listening on %s", s.addr)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Error("Error starting server: %s", err)
		}
	}()
	return listener
}

func (s *Server) Stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		log.Error("Error stopping server: %s", err)
	}
}

func (s *Server) deploySpecification(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	spec, err := s.engine.DeploySpecification(r.Context(), body)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":      spec.ID,
		"name":    spec.Name,
		"version": spec.Version,
		"key":     spec.Key,
	})
}

func (s *Server) getSpecifications(w http.ResponseWriter, r *http.Request) {
	specs, err := s.engine.FindSpecificationsById(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	items := make([]map[string]any, len(specs))
	for i, spec := range specs {
		items[i] = map[string]any{
			"id":      spec.ID,
			"name":    spec.Name,
			"version": spec.Version,
			"key":     spec.Key,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type launchCaseRequest struct {
	SpecID    string         `json:"specId"`
	Variables map[string]any `json:"variables"`
}

func (s *Server) launchCase(w http.ResponseWriter, r *http.Request) {
	var req launchCaseRequest
	if !readJSON(w, r, &req) {
		return
	}
	c, err := s.engine.LaunchCase(r.Context(), req.SpecID, req.Variables)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse(*c))
}

func (s *Server) getCase(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	c, err := s.engine.FindCase(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, caseResponse(c))
}

func (s *Server) cancelCase(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	if err := s.engine.CancelCase(r.Context(), key); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getCaseHistory(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	records, err := s.engine.ExecutionHistory(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": records})
}

func (s *Server) listWorkItems(w http.ResponseWriter, r *http.Request) {
	filter := storage.WorkItemFilter{
		TaskID:      r.URL.Query().Get("taskId"),
		Participant: r.URL.Query().Get("participant"),
	}
	if raw := r.URL.Query().Get("caseKey"); raw != "" {
		key, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "caseKey must be an integer")
			return
		}
		filter.CaseKey = key
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filter.States = []runtime.WorkItemState{runtime.WorkItemState(state)}
	}
	items, err := s.engine.GetWorkItems(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) getWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	wi, err := s.engine.FindWorkItem(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wi)
}

type offerRequest struct {
	Participants []string `json:"participants"`
}

func (s *Server) offerWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req offerRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Offer(r.Context(), key, req.Participants))
}

type participantRequest struct {
	Participant string `json:"participant"`
}

func (s *Server) claimWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req participantRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Claim(r.Context(), key, req.Participant))
}

func (s *Server) startWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req participantRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Start(r.Context(), key, req.Participant))
}

func (s *Server) suspendWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req participantRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Suspend(r.Context(), key, req.Participant))
}

func (s *Server) resumeWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req participantRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Resume(r.Context(), key, req.Participant))
}

type checkpointRequest struct {
	Participant string         `json:"participant"`
	Data        map[string]any `json:"data"`
}

func (s *Server) checkpointWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req checkpointRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Checkpoint(r.Context(), key, req.Participant, req.Data))
}

type delegateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) delegateWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req delegateRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Delegate(r.Context(), key, req.From, req.To))
}

func (s *Server) deallocateWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req participantRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Deallocate(r.Context(), key, req.Participant))
}

type completeRequest struct {
	Participant   string         `json:"participant"`
	CoSigner      string         `json:"coSigner"`
	Output        map[string]any `json:"output"`
	ChosenOutputs []string       `json:"chosenOutputs"`
}

func (s *Server) completeWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Complete(r.Context(), key, engine.CompleteRequest{
		Participant:   req.Participant,
		CoSigner:      req.CoSigner,
		Output:        req.Output,
		ChosenOutputs: req.ChosenOutputs,
	}))
}

type failRequest struct {
	Participant string `json:"participant"`
	Reason      string `json:"reason"`
}

func (s *Server) failWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req failRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.Fail(r.Context(), key, req.Participant, req.Reason))
}

func (s *Server) cancelWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	s.respond(w, s.engine.CancelWorkItem(r.Context(), key))
}

type resolveRequest struct {
	ChosenOutputs []string `json:"chosenOutputs"`
}

func (s *Server) resolveWorkItem(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.respond(w, s.engine.ResolveFiring(r.Context(), key, req.ChosenOutputs))
}

func (s *Server) addInstance(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	wi, err := s.engine.AddInstance(r.Context(), key)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wi)
}

func (s *Server) respond(w http.ResponseWriter, err error) {
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func caseResponse(c runtime.Case) map[string]any {
	return map[string]any{
		"key":         c.Key,
		"specId":      c.SpecID,
		"specVersion": c.SpecVersion,
		"state":       c.State,
		"variables":   c.Variables.Variables(),
		"createdAt":   c.CreatedAt,
		"completedAt": c.CompletedAt,
	}
}

func pathKey(w http.ResponseWriter, r *http.Request) (int64, bool) {
	key, err := strconv.ParseInt(chi.URLParam(r, "key"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "key must be an integer")
		return 0, false
	}
	return key, true
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return false
	}
	return true
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// writeEngineError maps typed engine rejections onto HTTP statuses: state
// machine conflicts are 409, ownership and compliance rejections 403,
// evaluation problems 422 and malformed nets 400.
func writeEngineError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	kind := engine.KindOf(err)
	switch kind {
	case engine.ErrInvalidTransition, engine.ErrCancelled:
		writeError(w, http.StatusConflict, string(kind), err.Error())
	case engine.ErrNotEligible, engine.ErrNotOwner, engine.ErrConstraintViolation:
		writeError(w, http.StatusForbidden, string(kind), err.Error())
	case engine.ErrEvaluation:
		writeError(w, http.StatusUnprocessableEntity, string(kind), err.Error())
	case engine.ErrMalformedNet:
		writeError(w, http.StatusBadRequest, string(kind), err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "ERROR", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, apiError{Type: errType, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("failed to write response: %s", err)
	}
}
