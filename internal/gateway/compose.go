package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"scriptgate/internal/chat"
	"scriptgate/internal/domain"
	"scriptgate/internal/runner"
	"scriptgate/internal/validate"
)

// Error types reported in the envelope that do not come from the
// validator or the runner.
const (
	ErrTypeInvalidField     = "invalid_field"
	ErrTypeRouteNotFound    = "route_not_found"
	ErrTypeMethodNotAllowed = "method_not_allowed"
	ErrTypeGeneration       = "generation_error"
	ErrTypeTimeout          = "timeout"
	ErrTypeBodyTooLarge     = "body_too_large"
	ErrTypeInternal         = "internal_error"
)

// envelope is the error body. Kind-specific fields go in extra and are
// flattened next to the three common keys.
type envelope struct {
	status  int
	message string
	errType string
	extra   map[string]any
}

func (e envelope) body(now time.Time) map[string]any {
	b := make(map[string]any, len(e.extra)+3)
	for k, v := range e.extra {
		b[k] = v
	}
	b["error"] = e.message
	b["error_type"] = e.errType
	b["timestamp"] = domain.Timestamp(now)
	return b
}

func validationEnvelope(ve *validate.Error) envelope {
	env := envelope{status: http.StatusBadRequest, message: ve.Error(), errType: string(ve.Kind)}
	if ve.Kind == validate.MissingFields {
		env.extra = map[string]any{
			"missing_fields":  nonNil(ve.Missing),
			"required_fields": nonNil(ve.Required),
			"received_fields": nonNil(ve.Received),
		}
	}
	return env
}

func invalidFieldEnvelope(field, message string) envelope {
	return envelope{
		status:  http.StatusBadRequest,
		message: message,
		errType: ErrTypeInvalidField,
		extra:   map[string]any{"field": field},
	}
}

func notFoundEnvelope(r *http.Request, endpoints []string) envelope {
	return envelope{
		status:  http.StatusNotFound,
		message: "Endpoint not found",
		errType: ErrTypeRouteNotFound,
		extra: map[string]any{
			"path":                r.URL.Path,
			"method":              r.Method,
			"available_endpoints": nonNil(endpoints),
		},
	}
}

func methodNotAllowedEnvelope(r *http.Request, allowed []string) envelope {
	return envelope{
		status:  http.StatusMethodNotAllowed,
		message: fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path),
		errType: ErrTypeMethodNotAllowed,
		extra: map[string]any{
			"path":            r.URL.Path,
			"method":          r.Method,
			"allowed_methods": nonNil(allowed),
		},
	}
}

func internalEnvelope() envelope {
	return envelope{status: http.StatusInternalServerError, message: "Internal server error", errType: ErrTypeInternal}
}

// resultEnvelope maps a failed invocation to its envelope. It must not be
// called with a Success.
func resultEnvelope(target string, res runner.Result) envelope {
	extra := map[string]any{"target": target}
	env := envelope{errType: string(res.Kind()), extra: extra}
	switch r := res.(type) {
	case runner.Timeout:
		env.status = http.StatusGatewayTimeout
		env.message = fmt.Sprintf("%s timed out after %s", target, r.Elapsed.Round(time.Millisecond))
		extra["elapsed_ms"] = r.Elapsed.Milliseconds()
	case runner.NonZeroExit:
		env.status = http.StatusInternalServerError
		env.message = fmt.Sprintf("%s failed with exit code %d", target, r.Code)
		extra["exit_code"] = r.Code
	case runner.MalformedOutput:
		env.status = http.StatusInternalServerError
		env.message = fmt.Sprintf("%s returned invalid JSON", target)
		parse := "invalid JSON"
		if r.Err != nil {
			parse = r.Err.Error()
		}
		extra["parse_error"] = parse
		extra["stdout"] = string(r.Raw)
	case runner.LaunchFailure:
		env.status = http.StatusInternalServerError
		env.message = fmt.Sprintf("%s could not be started: %s", target, r.Reason)
	default:
		return internalEnvelope()
	}
	return env
}

// chatErrorEnvelope maps a chat service error.
func chatErrorEnvelope(err error) envelope {
	if errors.Is(err, chat.ErrEmptyMessage) {
		return invalidFieldEnvelope("message", err.Error())
	}
	var ge *chat.GenerationError
	if errors.As(err, &ge) {
		if errors.Is(ge.Err, context.DeadlineExceeded) {
			return envelope{
				status:  http.StatusGatewayTimeout,
				message: fmt.Sprintf("%s generation timed out after %s", ge.Provider, ge.Elapsed.Round(time.Millisecond)),
				errType: ErrTypeTimeout,
				extra:   map[string]any{"provider": ge.Provider, "elapsed_ms": ge.Elapsed.Milliseconds()},
			}
		}
		return envelope{
			status:  http.StatusInternalServerError,
			message: "Failed to generate a response",
			errType: ErrTypeGeneration,
			extra:   map[string]any{"provider": ge.Provider},
		}
	}
	return internalEnvelope()
}

// successBody returns the bytes to send for a target's output. Object
// outputs without a timestamp key get one.
func successBody(payload json.RawMessage, now time.Time) []byte {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return trimmed
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return trimmed
	}
	if _, ok := fields["timestamp"]; ok {
		return trimmed
	}
	ts, _ := json.Marshal(domain.Timestamp(now))
	fields["timestamp"] = ts
	out, err := json.Marshal(fields)
	if err != nil {
		return trimmed
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func allowHeader(allowed []string) string {
	return strings.Join(append(slicesUnique(allowed), http.MethodOptions), ", ")
}

func slicesUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
