// internal/handlers/ws_codes.go
package handlers

import "github.com/coder/websocket"

// Close codes for the spectator feed, beyond the standard ones.
const (
	BadSubprotocolError websocket.StatusCode = 3000 // client did not request the feed subprotocol
)
