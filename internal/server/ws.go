package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ayusman/humanoverlay/internal/overlay"
)

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

// annotationsMessage is the JSON pushed to websocket clients.
type annotationsMessage struct {
	overlay.Annotations
	Timestamp int64 `json:"timestamp"`
}

// AnnotationsHandler pushes the text block to websocket clients after every
// processed frame.
type AnnotationsHandler struct {
	state  *overlay.State
	logger *zap.SugaredLogger
}

// NewAnnotationsHandler creates a new AnnotationsHandler over state.
func NewAnnotationsHandler(state *overlay.State, logger *zap.SugaredLogger) *AnnotationsHandler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AnnotationsHandler{state: state, logger: logger}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *AnnotationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warnw("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close()

	updates, cancel := h.state.Subscribe()
	defer cancel()

	// Detect client disconnects by reading until an error.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.send(conn, h.state.Annotations()); err != nil {
		return
	}

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case a, ok := <-updates:
			if !ok {
				return
			}
			if err := h.send(conn, a); err != nil {
				h.logger.Debugw("websocket write failed", "error", err)
				return
			}
		}
	}
}

func (h *AnnotationsHandler) send(conn *websocket.Conn, a overlay.Annotations) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(annotationsMessage{
		Annotations: a,
		Timestamp:   time.Now().UnixMilli(),
	})
}
