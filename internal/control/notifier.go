package control

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// StatusEvent is one status push to the gateway: a recording starting
// or finishing, a camera's graph changing state, a schedule trigger
// firing. Adapted from the teacher's JsonRpcNotification, narrowed to
// a single outbound shape since this engine has no inbound JSON-RPC
// method surface of its own.
type StatusEvent struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params"`
}

// Notifier fans status events out to every connected gateway over a
// websocket, the transport-level half of the teacher's
// WebSocketServer.broadcastEvent with the JSON-RPC method dispatch
// stripped out — this engine only ever pushes, it never serves calls.
type Notifier struct {
	upgrader websocket.Upgrader
	logger   *logging.Logger

	writeTimeout time.Duration

	mu      sync.RWMutex
	clients map[string]*websocket.Conn
	nextID  int64
}

func NewNotifier(writeTimeout time.Duration, logger *logging.Logger) *Notifier {
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	return &Notifier{
		upgrader:     websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		logger:       logger,
		writeTimeout: writeTimeout,
		clients:      make(map[string]*websocket.Conn),
	}
}

// ServeHTTP upgrades a gateway connection and keeps it registered
// until the peer disconnects. The connection never receives anything
// back from the peer beyond the close handshake; it exists purely as
// a Broadcast fan-out target.
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.logger.WithError(err).Warn("control notifier: upgrade failed")
		return
	}

	n.mu.Lock()
	n.nextID++
	clientID := fmt.Sprintf("c%d", n.nextID)
	n.clients[clientID] = conn
	n.mu.Unlock()

	n.logger.WithField("client_id", clientID).Debug("control notifier: gateway connected")

	defer func() {
		n.mu.Lock()
		delete(n.clients, clientID)
		n.mu.Unlock()
		_ = conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			n.logger.WithField("client_id", clientID).Debug("control notifier: gateway disconnected")
			return
		}
	}
}

// Authenticated wraps the notifier's upgrade handler with an AuthGate
// check against the token query parameter, so the gateway connection
// itself proves its JWT before it starts receiving status events.
func (n *Notifier) Authenticated(gate *AuthGate) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := gate.Validate(r.URL.Query().Get("token")); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		n.ServeHTTP(w, r)
	})
}

// Broadcast pushes event to every connected gateway, dropping any
// connection whose write fails rather than letting one slow peer
// block the rest.
func (n *Notifier) Broadcast(event StatusEvent) {
	n.mu.RLock()
	var failed []string
	for clientID, conn := range n.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(n.writeTimeout))
		if err := conn.WriteJSON(event); err != nil {
			n.logger.WithError(err).WithFields(logging.Fields{
				"client_id": clientID,
				"method":    event.Method,
			}).Warn("control notifier: failed to deliver event")
			failed = append(failed, clientID)
		}
	}
	n.mu.RUnlock()

	if len(failed) == 0 {
		return
	}
	n.mu.Lock()
	for _, clientID := range failed {
		if conn, ok := n.clients[clientID]; ok {
			delete(n.clients, clientID)
			_ = conn.Close()
		}
	}
	n.mu.Unlock()
}
