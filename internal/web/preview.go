package web

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cjeanneret/SmartCam/internal/debug"
	"github.com/cjeanneret/SmartCam/internal/hw/camera"
)

// PreviewHub is the preview use case: it pushes every frame as a binary
// JPEG websocket message to the connected clients. Slow clients skip frames.
type PreviewHub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*previewClient]struct{}
	closed  bool
}

type previewClient struct {
	conn   *websocket.Conn
	frames chan []byte
}

// NewPreviewHub creates an empty hub.
func NewPreviewHub() *PreviewHub {
	return &PreviewHub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*previewClient]struct{}),
	}
}

// Clients returns the number of connected preview clients.
func (h *PreviewHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// RenderFrame implements camera.PreviewSink.
func (h *PreviewHub) RenderFrame(f camera.Frame) {
	if h.Clients() == 0 {
		return
	}
	data := f.JPEG
	if len(data) == 0 {
		var err error
		if data, err = encodeLuma(f); err != nil {
			debug.Trace("Preview: frame %d: %v", f.Seq, err)
			return
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.frames <- data:
		default:
			// client busy, skip frame
		}
	}
}

var errShortFrame = errors.New("frame has no complete luma plane")

// encodeLuma turns a frame's Y plane into a grayscale JPEG.
func encodeLuma(f camera.Frame) ([]byte, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Luma) < f.Width*f.Height {
		return nil, errShortFrame
	}
	img := &image.Gray{Pix: f.Luma, Stride: f.Width, Rect: image.Rect(0, 0, f.Width, f.Height)}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ServeHTTP handles GET /preview by upgrading to a websocket.
func (h *PreviewHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.Info("Preview: upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	c := &previewClient{conn: conn, frames: make(chan []byte, 2)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	debug.Verbose("Preview: client %s connected", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// Reads only detect the client going away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		h.remove(c)
		conn.Close()
		debug.Verbose("Preview: client %s disconnected", r.RemoteAddr)
	}()
	for {
		select {
		case <-done:
			return
		case data, ok := <-c.frames:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		}
	}
}

func (h *PreviewHub) remove(c *previewClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.frames)
	}
}

// Close disconnects every client and refuses new ones.
func (h *PreviewHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.frames)
	}
}
