// Package oauth2 manages OAuth2 client-credentials tokens for a set of
// DICOMweb servers.
//
// # Overview
//
// A Manager is built from validated server configuration. For each server it
// holds a provider (see package providers), a circuit breaker, a retry
// policy and a rate limiter. Callers ask for a token by server name and get
// a cached one while it is outside the server's refresh buffer; otherwise
// the manager acquires a new one.
//
// # Usage
//
//	servers, err := config.LoadServers("servers.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	manager, err := oauth2.NewManager(servers,
//	    oauth2.WithLogger(logging.GetGlobalLogger()),
//	    oauth2.WithMetrics(sink))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Close()
//
//	header, err := manager.AuthorizationHeader(ctx, "dicom-a")
//	// header is "Bearer <token>"
//
// # Token Lifecycle
//
//  1. Cache lookup. A token is served while now+refresh_buffer is before its expiry.
//  2. Coalescing. Concurrent misses for one server share a single acquisition.
//  3. Distributed lock. With a shared cache the cache is checked again under a lock.
//  4. Rate limit, then circuit breaker, then retry around the provider call.
//  5. Optional JWT validation of the issued token.
//  6. The access token is encrypted and cached with a TTL equal to its remaining lifetime.
//
// A caller whose context ends while waiting gets an error; the acquisition
// itself keeps running for the other waiters and fills the cache.
//
// # Storage
//
// Tokens live in a cache.Backend. The local backend is per process; the redis
// backend is shared, in which case every instance must use a SecretsGuard
// derived from the same passphrase.
//
// # Errors
//
// Every error returned is an *errors.AppError with a category and code, for
// example circuit_open (CB-001) or rate_limit (RL-001).
package oauth2
