package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dicomweb-oauth/internal/common/errors"
	commonhttp "dicomweb-oauth/internal/common/http"
)

// maxResponseBytes bounds how much of a token response is read
const maxResponseBytes = 1 << 20

type tokenResponse struct {
	AccessToken string   `json:"access_token"`
	TokenType   string   `json:"token_type"`
	ExpiresIn   flexible `json:"expires_in"`
	Scope       string   `json:"scope"`
}

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// flexible accepts expires_in as a JSON number or a numeric string; Azure
// IMDS and some v1 endpoints send the latter.
type flexible int

func (f *flexible) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("expires_in %q is not numeric", s)
	}
	*f = flexible(n)
	return nil
}

// exchange sends req and turns the response into a TokenResult or a
// classified error. This is the only place acquisition failures are
// categorised.
func exchange(client *http.Client, req *http.Request, server string, now func() time.Time) (*TokenResult, error) {
	endpoint := commonhttp.RedactURL(req.URL.String())

	resp, err := client.Do(req)
	if err != nil {
		return nil, commonhttp.ClassifyTransportError(endpoint, err).
			WithContext("server", server).
			WithContext("endpoint", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, commonhttp.ClassifyTransportError(endpoint, err).
			WithContext("server", server).
			WithContext("endpoint", endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError(resp, body, endpoint, server, now)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, errors.TokenAcquisitionError(errors.CodeTokenInvalidResponse,
			"token endpoint returned a malformed response", err).
			WithStatus(resp.StatusCode).
			WithContext("server", server).
			WithContext("endpoint", endpoint)
	}
	if tr.AccessToken == "" {
		return nil, errors.TokenAcquisitionError(errors.CodeTokenInvalidResponse,
			"token response is missing access_token", nil).
			WithStatus(resp.StatusCode).
			WithContext("server", server).
			WithContext("endpoint", endpoint)
	}

	result := &TokenResult{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
		ExpiresIn:   int(tr.ExpiresIn),
		Scope:       tr.Scope,
	}
	if result.TokenType == "" {
		result.TokenType = DefaultTokenType
	}
	if result.ExpiresIn <= 0 {
		result.ExpiresIn = DefaultExpiresIn
	}
	return result, nil
}

func statusError(resp *http.Response, body []byte, endpoint, server string, now func() time.Time) error {
	status := resp.StatusCode
	msg := fmt.Sprintf("token endpoint returned %d", status)

	var er errorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		msg = fmt.Sprintf("%s: %s", msg, er.Error)
		if er.Description != "" {
			msg = fmt.Sprintf("%s - %s", msg, er.Description)
		}
	}

	var appErr *errors.AppError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		appErr = errors.TokenAcquisitionError(errors.CodeAuthInvalidCredentials, msg, nil)
	case status == http.StatusForbidden:
		appErr = errors.TokenAcquisitionError(errors.CodeAuthInsufficientScope, msg, nil)
	case status == http.StatusRequestTimeout:
		appErr = errors.TransientError(errors.CodeNetworkTimeout, msg, nil)
	case status == http.StatusServiceUnavailable || status == http.StatusBadGateway:
		appErr = errors.TransientError(errors.CodeAuthProviderUnavailable, msg, nil)
	case commonhttp.IsRetryableStatus(status):
		appErr = errors.TransientError(errors.CodeTokenAcquisitionFailed, msg, nil)
	default:
		appErr = errors.TokenAcquisitionError(errors.CodeTokenAcquisitionFailed, msg, nil)
	}

	if appErr.Retryable {
		if d := commonhttp.ParseRetryAfter(resp.Header.Get("Retry-After"), now()); d > 0 {
			appErr.WithRetryAfter(d)
		}
	}

	return appErr.
		WithStatus(status).
		WithContext("server", server).
		WithContext("endpoint", endpoint)
}
