package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"scriptgate/internal/chat"
	"scriptgate/internal/config"
	"scriptgate/internal/domain"
	"scriptgate/internal/logging"
	"scriptgate/internal/metrics"
	"scriptgate/internal/runner"
	"scriptgate/internal/validate"
)

const healthProbeTimeout = 5 * time.Second

// dispatch resolves the route and hands the request to its handler.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	route, ok, known, allowed := s.table.Match(r.Method, r.URL.Path)
	if !known {
		s.writeError(w, r, notFoundEnvelope(r, s.table.Endpoints()))
		return
	}
	if r.Method == http.MethodOptions {
		w.Header().Set("Allow", allowHeader(s.methodsFor(r.URL.Path)))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !ok {
		w.Header().Set("Allow", allowHeader(allowed))
		s.writeError(w, r, methodNotAllowedEnvelope(r, slicesUnique(allowed)))
		return
	}

	if rec, isRec := w.(*recorder); isRec {
		rec.route = route
		rec.routed = true
	}

	switch route.Kind {
	case config.RouteScript:
		s.handleScript(w, r, route)
	case config.RouteChat:
		s.handleChat(w, r, route)
	case config.RouteHealth:
		s.handleHealth(w, r)
	case config.RouteDocs:
		s.handleDocs(w, r)
	case config.RouteMetrics:
		metrics.Collector.Handler().ServeHTTP(w, r)
	default:
		s.writeError(w, r, internalEnvelope())
	}
}

func (s *Server) methodsFor(path string) []string {
	_, _, _, allowed := s.table.Match("", path)
	return allowed
}

// readBody enforces the content type and size limit and validates the
// object against the route's required fields.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request, route Route) (*validate.Request, bool) {
	if err := validate.ContentType(r.Header.Get("Content-Type")); err != nil {
		ve, _ := validate.As(err)
		s.writeError(w, r, validationEnvelope(ve))
		return nil, false
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, r, envelope{
				status:  http.StatusRequestEntityTooLarge,
				message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
				errType: ErrTypeBodyTooLarge,
				extra:   map[string]any{"limit_bytes": tooLarge.Limit},
			})
			return nil, false
		}
		s.writeError(w, r, validationEnvelope(&validate.Error{Kind: validate.NotJSON, Reason: err.Error()}))
		return nil, false
	}

	req, err := validate.Body(raw, route.Required)
	if err != nil {
		ve, ok := validate.As(err)
		if !ok {
			s.writeError(w, r, internalEnvelope())
			return nil, false
		}
		s.writeError(w, r, validationEnvelope(ve))
		return nil, false
	}
	return req, true
}

// handleScript forwards a validated body to the route's target.
func (s *Server) handleScript(w http.ResponseWriter, r *http.Request, route Route) {
	req, ok := s.readBody(w, r, route)
	if !ok {
		return
	}

	start := time.Now()
	res := s.runner.Run(r.Context(), runner.Request{
		Target:   route.Target,
		Payload:  req.Raw,
		Deadline: route.Timeout,
	})
	metrics.Collector.ObserveInvocation(route.Target, string(res.Kind()), time.Since(start))

	success, isSuccess := res.(runner.Success)
	if !isSuccess {
		if nz, isExit := res.(runner.NonZeroExit); isExit && nz.Diagnostic != "" {
			logging.WithContext(r.Context(), s.logger).Debug("target stderr",
				logging.FieldTarget, route.Target, "stderr", nz.Diagnostic)
		}
		s.writeError(w, r, resultEnvelope(route.Target, res))
		return
	}
	if rec, isRec := w.(*recorder); isRec {
		rec.kind = string(runner.KindSuccess)
	}
	s.writeRaw(w, http.StatusOK, successBody(success.Payload, s.now()))
}

// handleChat decodes the chat body and answers it through the chat service.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request, route Route) {
	req, ok := s.readBody(w, r, route)
	if !ok {
		return
	}
	if s.chat == nil {
		s.writeError(w, r, internalEnvelope())
		return
	}

	var in chat.Input
	if err := json.Unmarshal(req.Fields["message"], &in.Message); err != nil {
		s.writeError(w, r, invalidFieldEnvelope("message", chat.ErrEmptyMessage.Error()))
		return
	}
	if raw, has := req.Fields["conversation_history"]; has {
		if err := json.Unmarshal(raw, &in.History); err != nil {
			s.writeError(w, r, invalidFieldEnvelope("conversation_history", "conversation_history must be a list of {role, content} objects"))
			return
		}
	}
	if raw, has := req.Fields["page_context"]; has {
		if err := json.Unmarshal(raw, &in.Page); err != nil {
			s.writeError(w, r, invalidFieldEnvelope("page_context", "page_context must be an object"))
			return
		}
	}

	ctx := r.Context()
	if route.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, route.Timeout)
		defer cancel()
	}

	reply, err := s.chat.Respond(ctx, in)
	if err != nil {
		s.writeError(w, r, chatErrorEnvelope(err))
		return
	}
	if rec, isRec := w.(*recorder); isRec {
		rec.kind = string(runner.KindSuccess)
	}
	s.writeJSON(w, http.StatusOK, reply)
}

type providerHealth struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
}

type healthBody struct {
	Status           string          `json:"status"`
	Service          string          `json:"service"`
	Version          string          `json:"version"`
	Timestamp        string          `json:"timestamp"`
	TargetsAvailable map[string]bool `json:"targets_available"`
	Provider         *providerHealth `json:"provider,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := healthBody{
		Status:           "healthy",
		Service:          s.serviceName,
		Version:          s.version,
		Timestamp:        domain.Timestamp(s.now()),
		TargetsAvailable: make(map[string]bool),
	}
	if s.runner != nil {
		for _, name := range s.runner.Names() {
			body.TargetsAvailable[name] = s.runner.Available(name)
		}
	}
	if s.chat != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthProbeTimeout)
		defer cancel()
		err := s.chat.Healthy(ctx)
		if err != nil {
			logging.WithContext(r.Context(), s.logger).Debug("provider unhealthy", "provider", s.chat.ProviderName(), "err", err)
		}
		body.Provider = &providerHealth{Name: s.chat.ProviderName(), Healthy: err == nil}
	}
	s.writeJSON(w, http.StatusOK, body)
}

type routeDoc struct {
	Method         string         `json:"method"`
	Endpoint       string         `json:"endpoint"`
	Description    string         `json:"description"`
	RequiredFields []string       `json:"required_fields"`
	OptionalFields []string       `json:"optional_fields,omitempty"`
	Example        map[string]any `json:"example,omitempty"`
}

type docsBody struct {
	Service       string              `json:"service"`
	Version       string              `json:"version"`
	Endpoints     map[string]string   `json:"endpoints"`
	Documentation map[string]routeDoc `json:"documentation"`
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	body := docsBody{
		Service:       s.serviceName,
		Version:       s.version,
		Endpoints:     make(map[string]string),
		Documentation: make(map[string]routeDoc),
	}
	for _, rt := range s.table.Routes() {
		if rt.Kind == config.RouteDocs {
			continue
		}
		body.Endpoints[rt.Endpoint()] = rt.Summary
		if rt.Kind != config.RouteScript && rt.Kind != config.RouteChat {
			continue
		}
		body.Documentation[rt.Name] = routeDoc{
			Method:         rt.Method,
			Endpoint:       rt.Path,
			Description:    rt.Description,
			RequiredFields: nonNil(rt.Required),
			OptionalFields: rt.Optional,
			Example:        rt.Example,
		}
	}
	s.writeJSON(w, http.StatusOK, body)
}
