// Package knowledge is the HTTP client for the optional knowledge-base
// collaborator. The gateway uses it to prepend retrieved context to user
// messages before they reach the reasoning engine, and exposes its readiness
// on the health surface. The backend being down is never fatal: callers
// check Ready and fall back to the unaugmented message.
package knowledge
