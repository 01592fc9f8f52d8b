// Package validate checks inbound request bodies before anything is invoked.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"
)

// Kind identifies a validation failure. The values are the error_type
// reported to clients.
type Kind string

const (
	NotJSON       Kind = "not_json"
	EmptyBody     Kind = "empty_body"
	MissingFields Kind = "missing_fields"
)

// Error is a validation failure.
type Error struct {
	Kind     Kind
	Reason   string   // parse detail for NotJSON
	Missing  []string // MissingFields only, in declared order
	Required []string
	Received []string // sorted keys of the parsed object
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotJSON:
		if e.Reason != "" {
			return "request body must be a JSON object: " + e.Reason
		}
		return "request body must be a JSON object"
	case EmptyBody:
		return "request body is empty"
	case MissingFields:
		return "missing required fields: " + strings.Join(e.Missing, ", ")
	default:
		return string(e.Kind)
	}
}

// Request is a body that passed validation.
type Request struct {
	Raw    json.RawMessage
	Fields map[string]json.RawMessage
}

// Has reports whether the body carried key, even with a null value.
func (r *Request) Has(key string) bool {
	_, ok := r.Fields[key]
	return ok
}

// Decode unmarshals the whole body into v.
func (r *Request) Decode(v any) error {
	return json.Unmarshal(r.Raw, v)
}

// Body parses raw as a single JSON object and checks that every name in
// required is present.
func Body(raw []byte, required []string) (*Request, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, &Error{Kind: NotJSON, Reason: "body is empty"}
	}
	if trimmed[0] != '{' {
		return nil, &Error{Kind: NotJSON, Reason: "expected an object"}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil {
		return nil, &Error{Kind: NotJSON, Reason: err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &Error{Kind: NotJSON, Reason: "unexpected data after JSON object"}
	}

	if len(fields) == 0 {
		return nil, &Error{Kind: EmptyBody, Required: required}
	}

	var missing []string
	for _, name := range required {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		received := make([]string, 0, len(fields))
		for k := range fields {
			received = append(received, k)
		}
		sort.Strings(received)
		return nil, &Error{
			Kind:     MissingFields,
			Missing:  missing,
			Required: required,
			Received: received,
		}
	}

	return &Request{Raw: json.RawMessage(trimmed), Fields: fields}, nil
}

// ContentType rejects a declared media type that is not JSON. An absent
// header is accepted.
func ContentType(header string) error {
	if strings.TrimSpace(header) == "" {
		return nil
	}
	mt, _, err := mime.ParseMediaType(header)
	if err != nil {
		return &Error{Kind: NotJSON, Reason: fmt.Sprintf("invalid Content-Type %q", header)}
	}
	if mt == "application/json" || strings.HasSuffix(mt, "+json") {
		return nil
	}
	return &Error{Kind: NotJSON, Reason: "Content-Type must be application/json"}
}

// As unwraps err into a validation Error.
func As(err error) (*Error, bool) {
	var ve *Error
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
