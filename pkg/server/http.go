package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/kralicky/voicebox/pkg/tasks"
)

const maxRequestBody = 1 << 20

// HTTPOptions configures the browser-facing HTTP API.
type HTTPOptions struct {
	ListenAddress string
	// Bounds how long ListenAndServe waits for open requests, including log
	// streams, when ctx is canceled.
	ShutdownTimeout time.Duration
}

// HTTPHandler exposes Tasks to browsers as JSON and server-sent events.
type HTTPHandler struct {
	HTTPOptions
	tasks *Tasks
	mux   *http.ServeMux
}

func NewHTTPHandler(t *Tasks, options HTTPOptions) *HTTPHandler {
	if options.ShutdownTimeout <= 0 {
		options.ShutdownTimeout = 5 * time.Second
	}
	h := &HTTPHandler{
		HTTPOptions: options,
		tasks:       t,
		mux:         http.NewServeMux(),
	}
	h.mux.HandleFunc("GET /api/tasks", h.list)
	h.mux.HandleFunc("GET /api/tasks/{category}", h.status)
	h.mux.HandleFunc("POST /api/tasks/{category}/start", h.start)
	h.mux.HandleFunc("POST /api/tasks/{category}/stop", h.stop)
	h.mux.HandleFunc("POST /api/tasks/{category}/input", h.input)
	h.mux.HandleFunc("GET /api/tasks/{category}/logs", h.logs)
	h.mux.HandleFunc("GET /api/events", h.events)
	h.mux.HandleFunc("POST /api/recognize", h.recognize)
	h.mux.HandleFunc("GET /audio/{name}", h.audio)
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *HTTPHandler) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", h.ListenAddress)
	if err != nil {
		return err
	}
	return h.Serve(ctx, listener)
}

// Serve serves the HTTP API on listener until ctx is canceled.
func (h *HTTPHandler) Serve(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	slog.With("address", listener.Addr().String()).Info("http server starting")

	errC := make(chan error, 1)
	go func() {
		errC <- srv.Serve(listener)
	}()
	select {
	case err := <-errC:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if serveErr := <-errC; !errors.Is(serveErr, http.ErrServerClosed) {
		err = errors.Join(err, serveErr)
	}
	slog.Info("http server stopped")
	return err
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

func httpStatus(err error) int {
	switch {
	case errors.Is(err, tasks.ErrAlreadyRunning),
		errors.Is(err, tasks.ErrNotRunning),
		errors.Is(err, tasks.ErrNotInteractive):
		return http.StatusConflict
	case errors.Is(err, tasks.ErrInvalidCommand),
		errors.Is(err, fs.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, tasks.ErrUnknownCategory),
		errors.Is(err, tasks.ErrNoRuns),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, tasks.ErrWriteFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRecognitionFailed):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed request body: %w", tasks.ErrInvalidCommand, err)
	}
	return nil
}

func category(r *http.Request) tasks.Category {
	return tasks.Category(r.PathValue("category"))
}

func (h *HTTPHandler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.tasks.Supervisor.List())
}

func (h *HTTPHandler) status(w http.ResponseWriter, r *http.Request) {
	st, err := h.tasks.Supervisor.Status(category(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *HTTPHandler) start(w http.ResponseWriter, r *http.Request) {
	var params map[string]string
	if err := decodeJSON(r, &params); err != nil {
		writeError(w, err)
		return
	}
	launched, err := h.tasks.Launch(r.Context(), category(r), params)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Status string `json:"status"`
		Launched
	}{"started", launched})
}

type stopRequest struct {
	GraceMillis int64 `json:"grace_ms"`
}

func (h *HTTPHandler) stop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	outcome, err := h.tasks.Supervisor.Stop(r.Context(), category(r), time.Duration(req.GraceMillis)*time.Millisecond)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "stopped",
		"outcome": outcome,
	})
}

// input sends each line of the request body to the run as a separate
// payload.
func (h *HTTPHandler) input(w http.ResponseWriter, r *http.Request) {
	sc := bufio.NewScanner(io.LimitReader(r.Body, maxRequestBody))
	for sc.Scan() {
		if err := h.tasks.Supervisor.SendInput(category(r), sc.Text()); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := sc.Err(); err != nil {
		writeError(w, fmt.Errorf("%w: %w", tasks.ErrInvalidCommand, err))
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type eventStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newEventStream(w http.ResponseWriter) *eventStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	s := &eventStream{w: w, rc: http.NewResponseController(w)}
	// send headers right away so that clients see the stream as open
	if err := s.rc.Flush(); err != nil {
		slog.Debug("failed to flush event stream headers", "error", err)
	}
	return s
}

// send writes one frame. If event is set, clients dispatch the frame to
// listeners for that event type. Multi-line data is split across data
// fields, which clients join back together with newlines.
func (s *eventStream) send(event, data string) error {
	var sb strings.Builder
	if event != "" {
		sb.WriteString("event: ")
		sb.WriteString(event)
		sb.WriteString("\n")
	}
	for line := range strings.SplitSeq(data, "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
	if _, err := io.WriteString(s.w, sb.String()); err != nil {
		return err
	}
	return s.rc.Flush()
}

// logs streams the text of the category's current or most recent run, one
// frame per event named after its stream (output, error, notice or
// terminal). The last frame is the category's literal completion or stop
// text.
func (h *HTTPHandler) logs(w http.ResponseWriter, r *http.Request) {
	events, err := h.tasks.Supervisor.Logs(r.Context(), category(r))
	if err != nil {
		writeError(w, err)
		return
	}
	stream := newEventStream(w)
	for ev := range events {
		if err := stream.send(ev.Stream.String(), ev.Text); err != nil {
			slog.Debug("log stream closed by client", "category", ev.Category, "error", err)
			return
		}
	}
}

// events pushes the events of every category as JSON until the client
// disconnects.
func (h *HTTPHandler) events(w http.ResponseWriter, r *http.Request) {
	feed := h.tasks.Supervisor.Subscribe(r.Context())
	stream := newEventStream(w)
	for ev := range feed {
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Warn("failed to encode event", "error", err)
			continue
		}
		if err := stream.send("", string(data)); err != nil {
			return
		}
	}
}

type recognizeRequest struct {
	File  string `json:"file"`
	Model string `json:"model"`
}

func (h *HTTPHandler) recognize(w http.ResponseWriter, r *http.Request) {
	var req recognizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	text, err := h.tasks.Recognize(r.Context(), map[string]string{
		"file":  req.File,
		"model": req.Model,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

func (h *HTTPHandler) audio(w http.ResponseWriter, r *http.Request) {
	if h.tasks.Artifacts == nil {
		writeError(w, fs.ErrNotExist)
		return
	}
	name := r.PathValue("name")
	rc, err := h.tasks.Artifacts.Open(r.Context(), name)
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "audio/wav")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Debug("failed to send artifact", "name", name, "error", err)
	}
}
