// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the realtime endpoint.
// These provide more specific reasons for closure than standard codes.
const (
	BadSubprotocolError   = 3000 // Client connected with an unsupported subprotocol.
	InvalidAuthTokenError = 3001 // Declared gamer credentials carry an invalid or revoked token.
	InvalidGamerIDError   = 3002 // gamerId query parameter is not a valid identifier.
	InvalidGameIDError    = 3003 // gameId query parameter is malformed or names no game held here.
)
