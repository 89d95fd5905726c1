package app

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pairpad/api/internal/chat"
	"pairpad/api/internal/collab"
	"pairpad/api/internal/comments"
	"pairpad/api/internal/identity"
	"pairpad/api/internal/util"
)

type HTTPServer struct {
	service    *collab.Service
	verifier   *identity.Verifier
	corsOrigin string
}

func NewHTTPServer(service *collab.Service, verifier *identity.Verifier, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, verifier: verifier, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	rooms := r.PathPrefix("/api/rooms/{roomId}").Subrouter()
	rooms.HandleFunc("/join", s.handleJoin).Methods(http.MethodPost)
	rooms.HandleFunc("/leave", s.handleLeave).Methods(http.MethodPost)
	rooms.HandleFunc("/collaborators", s.handleCollaborators).Methods(http.MethodGet)
	rooms.HandleFunc("/ws", s.handleRoomSocket).Methods(http.MethodGet)

	rooms.HandleFunc("/comments/{line}", s.handleListComments).Methods(http.MethodGet)
	rooms.HandleFunc("/comments/{line}", s.handleAddComment).Methods(http.MethodPost)
	rooms.HandleFunc("/comments/{line}/{commentId}", s.handleDeleteComment).Methods(http.MethodDelete)
	rooms.HandleFunc("/comments/{line}/{commentId}/replies", s.handleAddReply).Methods(http.MethodPost)
	rooms.HandleFunc("/comments/{line}/{commentId}/replies/{replyId}", s.handleDeleteReply).Methods(http.MethodDelete)

	rooms.HandleFunc("/chat", s.handleListChat).Methods(http.MethodGet)
	rooms.HandleFunc("/chat", s.handleSendChat).Methods(http.MethodPost)
	rooms.HandleFunc("/chat/{messageId}", s.handleDeleteChat).Methods(http.MethodDelete)

	rooms.HandleFunc("/blame", s.handleGetBlame).Methods(http.MethodGet)
	rooms.HandleFunc("/blame", s.handleRecordBlame).Methods(http.MethodPost)

	r.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			writeJSON(w, http.StatusNoContent, map[string]any{})
			return
		}
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})

	return s.withMiddleware(r)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"keyspace": map[string]any{"status": "ok"},
	}
	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["keyspace"] = map[string]any{"status": "error", "error": err.Error()}
	}
	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleJoin(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	record, err := s.service.Join(r.Context(), mux.Vars(r)["roomId"], id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *HTTPServer) handleLeave(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	if err := s.service.Leave(r.Context(), mux.Vars(r)["roomId"], id.UserID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleCollaborators(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	list, err := s.service.Collaborators(r.Context(), mux.Vars(r)["roomId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collaborators": list})
}

// commentView is the wire shape of a comment thread: replies flattened into
// display order.
type commentView struct {
	ID              string          `json:"id"`
	Text            string          `json:"text"`
	AuthorID        string          `json:"authorId"`
	AuthorName      string          `json:"authorName"`
	AuthorAvatar    string          `json:"authorAvatar"`
	TimestampMillis int64           `json:"timestampMillis"`
	Replies         []comments.Reply `json:"replies"`
}

func toCommentView(c comments.Comment) commentView {
	return commentView{
		ID:              c.ID,
		Text:            c.Text,
		AuthorID:        c.AuthorID,
		AuthorName:      c.AuthorName,
		AuthorAvatar:    c.AuthorAvatar,
		TimestampMillis: c.TimestampMillis,
		Replies:         c.SortedReplies(),
	}
}

func (s *HTTPServer) handleListComments(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	line, ok := lineParam(w, r)
	if !ok {
		return
	}
	list, err := s.service.Comments.List(r.Context(), mux.Vars(r)["roomId"], line)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	views := make([]commentView, 0, len(list))
	for _, c := range list {
		views = append(views, toCommentView(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"line": line, "comments": views})
}

func (s *HTTPServer) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	line, ok := lineParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	comment, err := s.service.Comments.Add(r.Context(), mux.Vars(r)["roomId"], line, id, body.Text)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommentView(comment))
}

func (s *HTTPServer) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	line, ok := lineParam(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := s.service.Comments.Delete(r.Context(), vars["roomId"], line, vars["commentId"], id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleAddReply(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	line, ok := lineParam(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	vars := mux.Vars(r)
	reply, err := s.service.Comments.Reply(r.Context(), vars["roomId"], line, vars["commentId"], id, body.Text)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *HTTPServer) handleDeleteReply(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	line, ok := lineParam(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := s.service.Comments.DeleteReply(r.Context(), vars["roomId"], line, vars["commentId"], vars["replyId"], id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleListChat(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	msgs, err := s.service.Chat.List(r.Context(), mux.Vars(r)["roomId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	now := time.Now()
	type messageView struct {
		chat.Message
		DisplayTime string `json:"displayTime"`
	}
	views := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		views = append(views, messageView{Message: m, DisplayTime: chat.FormatRelativeTime(m.TimestampMillis, now)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": views})
}

func (s *HTTPServer) handleSendChat(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	msg, err := s.service.Chat.Send(r.Context(), mux.Vars(r)["roomId"], id, body.Text)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *HTTPServer) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	if err := s.service.Chat.Delete(r.Context(), vars["roomId"], vars["messageId"], id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleGetBlame(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identify(w, r); !ok {
		return
	}
	view, err := s.service.Blame.Read(r.Context(), mux.Vars(r)["roomId"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleRecordBlame(w http.ResponseWriter, r *http.Request) {
	id, ok := s.identify(w, r)
	if !ok {
		return
	}
	var body struct {
		ChangedLines []int `json:"changedLines"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if err := s.service.Blame.RecordEdit(r.Context(), mux.Vars(r)["roomId"], id, body.ChangedLines); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// identify resolves the caller's identity from the bearer token, or the
// "token" query parameter for clients that cannot set headers (WebSocket
// upgrades from browsers). Writes 401 and returns false on failure.
func (s *HTTPServer) identify(w http.ResponseWriter, r *http.Request) (identity.Identity, bool) {
	token := bearerToken(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing identity token")
		return identity.Identity{}, false
	}
	id, err := s.verifier.Verify(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid identity token")
		return identity.Identity{}, false
	}
	return id, true
}

func lineParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := mux.Vars(r)["line"]
	line, err := strconv.Atoi(raw)
	if err != nil || line < 0 {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_LINE", "Line index must be a non-negative integer")
		return 0, false
	}
	return line, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = util.NewID("req")
		}

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack passes through so the WebSocket upgrade works behind the
// middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, message := mapError(err)
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
	}
	writeError(w, status, code, message)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
