package ws

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/tcriess/lightspeed-versus/auth"
)

// Server upgrades verified requests to websocket connections on the hub.
type Server struct {
	hub      *Hub
	verifier auth.Verifier
	upgrader websocket.Upgrader
}

// NewServer creates the websocket endpoint. Browsers are only admitted from allowedOrigins ("*" admits any);
// requests without an Origin header (non-browser clients) are always admitted.
func NewServer(hub *Hub, verifier auth.Verifier, allowedOrigins []string) *Server {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}
	return &Server{
		hub:      hub,
		verifier: verifier,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				if _, ok := origins["*"]; ok {
					return true
				}
				_, ok := origins[origin]
				return ok
			},
		},
	}
}

// Handle incoming websockets
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, err := s.verifier.Verify(r.Context(), auth.HandshakeFromRequest(r))
	if err != nil {
		s.hub.logger.Info("rejected connection", "remote", r.RemoteAddr, "error", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	// Upgrade HTTP request to Websocket
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.logger.Warn("websocket upgrade error", "error", err)
		return
	}

	c := NewClient(s.hub, conn, p)
	if !s.hub.register(c) {
		conn.Close()
		return
	}
	go c.WriteLoop()
	c.ReadLoop()
	s.hub.unregister(c)
}
