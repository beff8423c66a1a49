// Package httpx holds the HTTP plumbing shared by the auth handlers:
// JSON envelopes, body parsing, cookies and middleware.
package httpx

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/lockhaven/authcore/internal/autherr"
	"github.com/lockhaven/authcore/internal/observability/logger"
)

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// WriteJSON writes v with the standard headers.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps a domain error onto the error envelope. Internal
// faults are logged with full context; their message reaches the
// caller only when dev is set.
func WriteError(w http.ResponseWriter, err error, dev bool) {
	kind := autherr.KindOf(err)
	msg := err.Error()
	if kind == autherr.KindInternal || kind == autherr.KindOAuthProviderFailure {
		logger.L().Error("request failed", logger.String("kind", string(kind)), logger.Err(err))
		if !dev && kind == autherr.KindInternal {
			msg = "internal server error"
		}
	}
	WriteJSON(w, kind.HTTPStatus(), errorEnvelope{Error: errorBody{
		Message: msg,
		Type:    string(kind),
		Code:    kind.Code(),
	}})
}

// ReadJSON decodes a JSON request body of at most 1MB. Unknown fields
// are tolerated.
func ReadJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && err != io.EOF {
		return autherr.New(autherr.KindInvalidData, "malformed json body")
	}
	return nil
}

// ParseBody reads request parameters from a JSON or form body
// depending on Content-Type, plus the query string. Unsupported
// content types are rejected.
func ParseBody(r *http.Request) (map[string]string, error) {
	out := map[string]string{}
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	if r.Method == http.MethodGet {
		return out, nil
	}

	ct := strings.ToLower(r.Header.Get("Content-Type"))
	switch {
	case strings.Contains(ct, "application/json"):
		raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, 1<<20))
		r.Body.Close()
		if err != nil {
			return nil, autherr.New(autherr.KindInvalidData, "unreadable request body")
		}
		// Handlers that decode a typed body re-read it.
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if len(raw) > 0 {
			var body map[string]any
			if err := json.Unmarshal(raw, &body); err != nil {
				return nil, autherr.New(autherr.KindInvalidData, "malformed json body")
			}
			for k, v := range body {
				if s, ok := v.(string); ok {
					out[k] = s
				}
			}
		}
	case strings.Contains(ct, "application/x-www-form-urlencoded"), strings.Contains(ct, "multipart/form-data"):
		if err := r.ParseForm(); err != nil {
			return nil, autherr.New(autherr.KindInvalidData, "malformed form body")
		}
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}
	case ct == "":
		// bodyless POST; query parameters only
	default:
		return nil, autherr.Newf(autherr.KindInvalidData, "unsupported content type %q", ct)
	}
	return out, nil
}
