package oauth2

import (
	"net/http"

	"dicomweb-oauth/internal/common/logging"
)

// Transport is an http.RoundTripper that adds an Authorization header to
// requests whose URL belongs to a configured server. Other requests pass
// through untouched.
type Transport struct {
	Manager *Manager
	// Base performs the request; defaults to http.DefaultTransport
	Base http.RoundTripper
}

// NewTransport wraps base with token injection from m
func NewTransport(m *Manager, base http.RoundTripper) *Transport {
	return &Transport{Manager: m, Base: base}
}

// Client returns an *http.Client that authenticates DICOMweb calls
func (m *Manager) Client(base http.RoundTripper) *http.Client {
	return &http.Client{Transport: NewTransport(m, base)}
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip injects the token. A 401 from the server drops the cached
// token and, when the body can be replayed, retries once with a new one.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	server, ok := t.Manager.ServerForURL(req.URL.String())
	if !ok {
		return t.base().RoundTrip(req)
	}

	ctx := req.Context()
	tok, err := t.Manager.GetTokenDetails(ctx, server, false)
	if err != nil {
		if req.Body != nil {
			req.Body.Close()
		}
		return nil, err
	}

	resp, err := t.base().RoundTrip(authorize(req, tok))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	t.Manager.logger.Warn("Server rejected token, acquiring a new one",
		logging.String("server", server),
		logging.String("method", req.Method))

	retry := authorize(req, nil)
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}

	tok, err = t.Manager.GetTokenDetails(ctx, server, true)
	if err != nil {
		if retry.Body != nil {
			retry.Body.Close()
		}
		return resp, nil
	}
	resp.Body.Close()
	retry.Header.Set("Authorization", tok.AuthorizationHeader())
	return t.base().RoundTrip(retry)
}

// authorize clones req and sets its Authorization header from tok
func authorize(req *http.Request, tok *Token) *http.Request {
	out := req.Clone(req.Context())
	if tok != nil {
		out.Header.Set("Authorization", tok.AuthorizationHeader())
	}
	return out
}
