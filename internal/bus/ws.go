package bus

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"swarmcore.io/swarm/internal/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades r to a websocket, subscribes it to rooms for the
// lifetime of the connection, and pumps bus events to the client until
// the connection closes or the subscriber is dropped as a slow consumer.
// It blocks until the connection ends, so callers invoke it directly
// from an HTTP handler goroutine.
func (b *Bus) ServeWS(w http.ResponseWriter, r *http.Request, rooms []string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub, token := b.Subscribe(rooms)
	defer b.Unsubscribe(token)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	done := make(chan struct{})
	go readPump(conn, done)

	writePump(conn, sub)
	close(done)
	return nil
}

// readPump discards inbound frames (subscribers don't send data over this
// connection) purely to drive the pong handler and detect client close.
func readPump(conn *websocket.Conn, done chan struct{}) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		select {
		case <-done:
			return
		default:
		}
	}
}

// writePump drains sub's outbound queue to the socket and pings on
// pingPeriod, mirroring the bus's own HeartbeatInterval at the transport
// level so a dead TCP connection is caught even if the subscriber is
// never published to.
func writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				logger.Warn("bus: websocket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			return
		}
	}
}
