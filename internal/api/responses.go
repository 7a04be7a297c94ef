package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 1000
	maxRequestBody   = 1 << 20
)

var errNoBody = errors.New("missing request body")

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// Pagination is a limit/offset window over a listing.
type Pagination struct {
	Limit  int
	Offset int
}

// ParsePagination reads ?limit= and ?offset=. Values outside 1..1000 and
// negative offsets are replaced by the defaults rather than rejected.
func ParsePagination(r *http.Request) Pagination {
	p := Pagination{Limit: defaultPageLimit}
	if n, ok := QueryInt(r, "limit"); ok && n >= 1 && n <= maxPageLimit {
		p.Limit = n
	}
	if n, ok := QueryInt(r, "offset"); ok && n > 0 {
		p.Offset = n
	}
	return p
}

// queryParam parses ?name= with parse. Missing, empty and unparsable
// values all report false.
func queryParam[T any](r *http.Request, name string, parse func(string) (T, error)) (T, bool) {
	var zero T
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return zero, false
	}
	v, err := parse(raw)
	if err != nil {
		return zero, false
	}
	return v, true
}

func QueryInt(r *http.Request, name string) (int, bool) {
	return queryParam(r, name, strconv.Atoi)
}

// QueryInt64 is used for millisecond positions.
func QueryInt64(r *http.Request, name string) (int64, bool) {
	return queryParam(r, name, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// QueryFloat accepts finite numbers only.
func QueryFloat(r *http.Request, name string) (float64, bool) {
	return queryParam(r, name, func(s string) (float64, error) {
		f, err := strconv.ParseFloat(s, 64)
		if err == nil && (math.IsNaN(f) || math.IsInf(f, 0)) {
			err = fmt.Errorf("%s is not finite", s)
		}
		return f, err
	})
}

func QueryString(r *http.Request, name string) (string, bool) {
	return queryParam(r, name, func(s string) (string, error) { return s, nil })
}

// QueryStringList splits ?name=a,b,c into trimmed, non-empty items.
func QueryStringList(r *http.Request, name string) []string {
	var out []string
	for _, item := range strings.Split(r.URL.Query().Get(name), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// PathInt parses an integer chi URL parameter such as {index}.
func PathInt(r *http.Request, name string) (int, error) {
	raw := chi.URLParam(r, name)
	if raw == "" {
		return 0, fmt.Errorf("missing path parameter %q", name)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("path parameter %q: %w", name, err)
	}
	return n, nil
}

// DecodeJSON decodes a request body of at most 1 MiB into v, rejecting
// fields v does not declare.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return errNoBody
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
