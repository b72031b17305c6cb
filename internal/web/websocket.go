package web

import (
	"net/http"

	"github.com/gorilla/websocket"
)

// Streams are read-only views of public ledger state, so any origin may
// connect.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}
