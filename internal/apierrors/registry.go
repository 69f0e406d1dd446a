package apierrors

import (
	"net/http"
	"sort"
	"strings"
	"sync"
)

// ErrorCode is a registered error code.
type ErrorCode struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
}

type registry struct {
	mu    sync.RWMutex
	codes map[string]ErrorCode
	byNS  map[string][]string
}

// Registry is the process-wide code table. It is filled at init and only
// read afterwards.
var Registry = &registry{
	codes: make(map[string]ErrorCode),
	byNS:  make(map[string][]string),
}

// Register adds or replaces a code. Codes without a namespace land in "core".
func (r *registry) Register(e ErrorCode) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ns := "core"
	if idx := strings.Index(e.Code, ":"); idx > 0 {
		ns = e.Code[:idx]
	}
	if _, exists := r.codes[e.Code]; !exists {
		r.byNS[ns] = append(r.byNS[ns], e.Code)
	}
	r.codes[e.Code] = e
}

// RegisterNamespace registers codes, prefixing bare names with ns.
func (r *registry) RegisterNamespace(ns string, codes []ErrorCode) {
	for _, e := range codes {
		if !strings.Contains(e.Code, ":") {
			e.Code = ns + ":" + e.Code
		}
		r.Register(e)
	}
}

// Get returns the code entry.
func (r *registry) Get(code string) (ErrorCode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.codes[code]
	return e, ok
}

// ByNamespace returns the codes of ns in registration order.
func (r *registry) ByNamespace(ns string) []ErrorCode {
	r.mu.RLock()
	defer r.mu.RUnlock()

	codes := r.byNS[ns]
	result := make([]ErrorCode, 0, len(codes))
	for _, code := range codes {
		result = append(result, r.codes[code])
	}
	return result
}

// Namespaces returns the registered namespaces sorted by name.
func (r *registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(r.byNS))
	for ns := range r.byNS {
		result = append(result, ns)
	}
	sort.Strings(result)
	return result
}

// HTTPStatus returns the suggested status for code, or 500 if unknown.
func (r *registry) HTTPStatus(code string) int {
	if e, ok := r.Get(code); ok {
		return e.HTTPStatus
	}
	return http.StatusInternalServerError
}

// Message returns the default message for code, or the code itself if unknown.
func (r *registry) Message(code string) string {
	if e, ok := r.Get(code); ok {
		return e.Message
	}
	return code
}
