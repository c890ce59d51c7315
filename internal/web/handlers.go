package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/cjeanneret/SmartCam/internal/hw/camera"
	"github.com/cjeanneret/SmartCam/internal/logic/capture"
	"github.com/cjeanneret/SmartCam/internal/logic/session"
)

// maxBodyBytes bounds request bodies; every request here is a tiny JSON object.
const maxBodyBytes = 1 << 16

// Session is the part of session.Controller the HTTP surface drives.
type Session interface {
	State() session.State
	Config() session.SessionConfig
	CanSwitchLens() bool
	SwitchLens() error
	DisplayChanged(width, height int, rotation camera.Rotation) error
	SetTargetRotation(degrees int) error
	SetFlashMode(m camera.FlashMode) error
	SetTimer(t session.Timer) error
}

// Countdown starts countdown captures. *capture.Pipeline implements it.
type Countdown interface {
	StartCapture(ctx context.Context, timer session.Timer) (<-chan capture.Event, error)
}

// CaptureRequest is the optional body of POST /capture. An empty timer uses
// the session's configured timer.
type CaptureRequest struct {
	Timer string `json:"timer"`
}

// DisplayRequest is the body of POST /display.
type DisplayRequest struct {
	Width    int `json:"width"`
	Height   int `json:"height"`
	Rotation int `json:"rotation"`
}

// RotationRequest is the body of POST /rotation.
type RotationRequest struct {
	Degrees int `json:"degrees"`
}

// FlashRequest is the body of POST /flash.
type FlashRequest struct {
	Mode string `json:"mode"`
}

// TimerRequest is the body of POST /timer.
type TimerRequest struct {
	Timer string `json:"timer"`
}

// StateResponse is returned by GET /state and by the control endpoints.
type StateResponse struct {
	State         string `json:"state"`
	Lens          string `json:"lens"`
	Flash         string `json:"flash"`
	Timer         string `json:"timer"`
	Rotation      int    `json:"rotation"`
	CanSwitchLens bool   `json:"can_switch_lens"`
}

// ValidateDisplay checks display metrics coming from the client.
func ValidateDisplay(d DisplayRequest) error {
	if d.Width <= 0 || d.Width > 16384 {
		return fmt.Errorf("width must be between 1 and 16384")
	}
	if d.Height <= 0 || d.Height > 16384 {
		return fmt.Errorf("height must be between 1 and 16384")
	}
	if _, err := camera.ParseRotation(d.Rotation); err != nil {
		return err
	}
	return nil
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Session     Session
	Countdown   Countdown
	Display     *Display
	// Cooldown is the minimum time between two accepted capture requests.
	Cooldown time.Duration

	captureMu   sync.Mutex
	lastCapture time.Time
}

// NewHandlers creates handlers with the given dependencies.
// If countdown is nil, POST /capture returns 503 Service Unavailable.
func NewHandlers(broadcaster *StatusBroadcaster, s Session, countdown Countdown, display *Display) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Session:     s,
		Countdown:   countdown,
		Display:     display,
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps session and pipeline errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrSessionBusy), errors.Is(err, capture.ErrCountdownActive):
		status = http.StatusConflict
	case errors.Is(err, session.ErrSessionClosed), errors.Is(err, capture.ErrPipelineClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, session.ErrLensUnavailable), errors.Is(err, camera.ErrNoCaptureUseCase):
		status = http.StatusUnprocessableEntity
	}
	http.Error(w, err.Error(), status)
}

func (h *Handlers) state() StateResponse {
	cfg := h.Session.Config()
	return StateResponse{
		State:         h.Session.State().String(),
		Lens:          cfg.Lens.String(),
		Flash:         cfg.Flash.String(),
		Timer:         cfg.Timer.String(),
		Rotation:      int(cfg.Rotation),
		CanSwitchLens: h.Session.CanSwitchLens(),
	}
}

// HandleState handles GET /state.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.state())
}

// StartCountdown starts a countdown capture and relays its events to the
// status stream. It is shared by POST /capture and the shutter button.
func (h *Handlers) StartCountdown(timer session.Timer) error {
	if h.Countdown == nil {
		return capture.ErrPipelineClosed
	}
	if st := h.Session.State(); st != session.Bound {
		return fmt.Errorf("%w: session is %s", session.ErrSessionBusy, st)
	}
	events, err := h.Countdown.StartCapture(context.Background(), timer)
	if err != nil {
		return err
	}
	go h.relayCountdown(events)
	return nil
}

func (h *Handlers) relayCountdown(events <-chan capture.Event) {
	for e := range events {
		switch e.Kind {
		case capture.EventTick:
			h.Broadcaster.Publish("countdown", fmt.Sprintf("%d", e.Remaining), map[string]int{"remaining": e.Remaining})
		case capture.EventCompleted:
			res := e.Result
			h.Broadcaster.Publish("captured", "Photo saved: "+res.URI, map[string]any{
				"id":       res.RequestID.String(),
				"uri":      res.URI,
				"lens":     res.Lens.String(),
				"rotation": int(res.Rotation),
				"mirrored": res.Mirrored,
			})
		case capture.EventFailed:
			log.Printf("capture failed: %v", e.Err)
			h.Broadcaster.Broadcast("error", "Capture failed: "+e.Err.Error())
		}
	}
}

// HandleCapture handles POST /capture to start a countdown capture.
func (h *Handlers) HandleCapture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CaptureRequest
	if r.ContentLength != 0 {
		if !decodeJSON(w, r, &req) {
			return
		}
	}
	timer := h.Session.Config().Timer
	if req.Timer != "" {
		t, err := session.ParseTimer(req.Timer)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		timer = t
	}

	if h.Countdown == nil {
		http.Error(w, "capture not configured", http.StatusServiceUnavailable)
		return
	}

	h.captureMu.Lock()
	if h.Cooldown > 0 && time.Since(h.lastCapture) < h.Cooldown {
		h.captureMu.Unlock()
		http.Error(w, "too many capture requests", http.StatusTooManyRequests)
		return
	}
	if err := h.StartCountdown(timer); err != nil {
		h.captureMu.Unlock()
		writeError(w, err)
		return
	}
	h.lastCapture = time.Now()
	h.captureMu.Unlock()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "timer": timer.String()})
}

// HandleSwitchLens handles POST /lens/switch.
func (h *Handlers) HandleSwitchLens(w http.ResponseWriter, r *http.Request) {
	if err := h.Session.SwitchLens(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, h.state())
}

// HandleFlash handles POST /flash.
func (h *Handlers) HandleFlash(w http.ResponseWriter, r *http.Request) {
	var req FlashRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	mode, err := camera.ParseFlashMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Session.SetFlashMode(mode); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

// HandleTimer handles POST /timer.
func (h *Handlers) HandleTimer(w http.ResponseWriter, r *http.Request) {
	var req TimerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	t, err := session.ParseTimer(req.Timer)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Session.SetTimer(t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.state())
}

// HandleRotation handles POST /rotation: a rotation-only display change,
// applied in place on the live use cases.
func (h *Handlers) HandleRotation(w http.ResponseWriter, r *http.Request) {
	var req RotationRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	rot, err := camera.ParseRotation(req.Degrees)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Session.SetTargetRotation(req.Degrees); err != nil {
		writeError(w, err)
		return
	}
	h.Display.SetRotation(rot)
	writeJSON(w, http.StatusOK, h.state())
}

// HandleDisplay handles POST /display: a full display configuration change,
// which rebinds the camera. The display keeps its previous geometry when the
// session refuses the change.
func (h *Handlers) HandleDisplay(w http.ResponseWriter, r *http.Request) {
	var req DisplayRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := ValidateDisplay(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rot := camera.Rotation(req.Rotation)
	if err := h.Session.DisplayChanged(req.Width, req.Height, rot); err != nil {
		writeError(w, err)
		return
	}
	h.Display.SetMetrics(req.Width, req.Height)
	h.Display.SetRotation(rot)
	writeJSON(w, http.StatusAccepted, h.state())
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
