// Package auth guards the diagnostics listener with API keys and HS256 JWTs.
//
// Keys are held as SHA-256 hashes and compared in constant time. Tokens are
// verified against a shared secret and must carry an exp claim. A request
// passes when either credential is accepted. The liveness probe stays open so
// orchestrators can reach it without credentials.
package auth
