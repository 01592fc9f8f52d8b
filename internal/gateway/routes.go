package gateway

import (
	"net/http"
	"slices"
	"time"

	"scriptgate/internal/config"
)

// Route is one entry of the static dispatch table.
type Route struct {
	Name        string
	Method      string
	Path        string
	Kind        string
	Target      string
	Summary     string
	Description string
	Required    []string
	Optional    []string
	Example     map[string]any
	Timeout     time.Duration
}

// Endpoint renders the route as "METHOD /path".
func (r Route) Endpoint() string {
	return r.Method + " " + r.Path
}

// Table is the read-only route table built at startup.
type Table struct {
	routes []Route
	byPath map[string][]int
}

// NewTable indexes routes by path. Later duplicates of a method/path pair
// are ignored.
func NewTable(routes []Route) *Table {
	t := &Table{byPath: make(map[string][]int)}
	for _, r := range routes {
		if _, ok := t.find(r.Method, r.Path); ok {
			continue
		}
		t.routes = append(t.routes, r)
		t.byPath[r.Path] = append(t.byPath[r.Path], len(t.routes)-1)
	}
	return t
}

// TableFromConfig builds the table from the routes section, adding the
// metrics route when metrics are enabled.
func TableFromConfig(cfg *config.Config) *Table {
	routes := make([]Route, 0, len(cfg.Routes)+1)
	for _, rc := range cfg.Routes {
		routes = append(routes, Route{
			Name:        rc.Name,
			Method:      rc.Method,
			Path:        rc.Path,
			Kind:        rc.Kind,
			Target:      rc.Target,
			Summary:     rc.Summary,
			Description: rc.Description,
			Required:    slices.Clone(rc.Required),
			Optional:    slices.Clone(rc.Optional),
			Example:     rc.Example,
			Timeout:     time.Duration(rc.TimeoutSeconds) * time.Second,
		})
	}
	if cfg.Metrics.Enabled {
		routes = append(routes, Route{
			Name:    "metrics",
			Method:  http.MethodGet,
			Path:    cfg.Metrics.Endpoint,
			Kind:    config.RouteMetrics,
			Summary: "Prometheus metrics",
		})
	}
	return NewTable(routes)
}

func (t *Table) find(method, path string) (Route, bool) {
	for _, i := range t.byPath[path] {
		if t.routes[i].Method == method {
			return t.routes[i], true
		}
	}
	return Route{}, false
}

// Match resolves a request. known reports whether any route uses path;
// when the method does not match, allowed lists the methods that would.
func (t *Table) Match(method, path string) (route Route, ok, known bool, allowed []string) {
	idx, known := t.byPath[path]
	if !known {
		return Route{}, false, false, nil
	}
	// HEAD is served by the GET handler.
	if method == http.MethodHead {
		method = http.MethodGet
	}
	for _, i := range idx {
		r := t.routes[i]
		if r.Method == method {
			return r, true, true, nil
		}
		allowed = append(allowed, r.Method)
	}
	return Route{}, false, true, allowed
}

// Routes returns the table in declaration order.
func (t *Table) Routes() []Route {
	return slices.Clone(t.routes)
}

// Endpoints lists every route as "METHOD /path".
func (t *Table) Endpoints() []string {
	out := make([]string, len(t.routes))
	for i, r := range t.routes {
		out[i] = r.Endpoint()
	}
	return out
}

// MaxTimeout is the longest invocation deadline of any route.
func (t *Table) MaxTimeout() time.Duration {
	var longest time.Duration
	for _, r := range t.routes {
		if r.Timeout > longest {
			longest = r.Timeout
		}
	}
	return longest
}
