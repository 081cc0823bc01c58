package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TimestampLayout is the format of every timestamp in a JSON response. Times
// are rendered in UTC.
const TimestampLayout = "2006-01-02 15:04:05"

// NoMessagesText is returned by GET /message/text when the store is empty.
const NoMessagesText = "No messages yet"

var (
	ErrEmptyContent = errors.New("message content is empty")
	ErrNotFound     = errors.New("message not found")
	ErrInvalidID    = errors.New("invalid message id")
	ErrCacheMiss    = errors.New("message not found in cache")
)

// A DB provides a storage layer that persists messages.
type DB interface {
	// InsertMessage stores msg.Content. The store assigns the ID and the
	// creation time and returns the stored record.
	InsertMessage(ctx context.Context, msg Message) (Message, error)
	LatestMessage(ctx context.Context) (Message, error)
	// ListMessages returns all messages, newest first.
	ListMessages(ctx context.Context) ([]Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	DeleteMessage(ctx context.Context, id string) error
	DeleteMessages(ctx context.Context) error
	CountMessages(ctx context.Context) (int, error)
}

// A Cache provides a storage layer that caches messages.
//
// Handlers fill the cache after a store read, so a fill may arrive after a
// delete of the same record. InsertMessage must drop a message whose id was
// passed to DeleteMessage, or that was created before the last
// DeleteMessages.
type Cache interface {
	InsertMessage(ctx context.Context, msg Message) error
	GetMessage(ctx context.Context, id string) (*Message, error)
	DeleteMessage(ctx context.Context, id string) error
	DeleteMessages(ctx context.Context) error
}

// LatestText returns the content of the newest message, or NoMessagesText
// when there are none.
func LatestText(ctx context.Context, db DB) (string, error) {
	msg, err := db.LatestMessage(ctx)
	if errors.Is(err, ErrNotFound) {
		return NoMessagesText, nil
	}
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// ParseID validates a message id and returns it in canonical form.
func ParseID(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", ErrInvalidID
	}
	return id.String(), nil
}

// API provides the REST endpoints for the application.
type API struct {
	Logger *slog.Logger
	DB     DB
	// Cache is optional.
	Cache    Cache
	Validate Validator

	once sync.Once
	mux  *http.ServeMux
}

func (a *API) setupRoutes() {
	if a.Validate == nil {
		a.Validate = NewValidator()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", a.index)
	mux.HandleFunc("GET /hello", a.hello)
	mux.HandleFunc("GET /json", a.helloJSON)
	mux.HandleFunc("GET /health", a.health)

	mux.HandleFunc("POST /message", a.createMessage)
	mux.HandleFunc("GET /message", a.latestMessage)
	mux.HandleFunc("GET /message/text", a.latestMessageText)
	mux.HandleFunc("GET /message/{messageID}", a.getMessage)
	mux.HandleFunc("DELETE /message/{messageID}", a.deleteMessage)
	mux.HandleFunc("GET /messages", a.listMessages)
	mux.HandleFunc("DELETE /messages", a.deleteMessages)

	a.mux = mux
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.once.Do(a.setupRoutes)
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	a.mux.ServeHTTP(rec, r)
	a.Logger.Info("Request handled",
		"method", r.Method,
		"path", r.URL.Path,
		"status", rec.status,
		"duration", time.Since(start),
	)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.Logger.Error("Could not encode JSON body", "error", err.Error())
	}
}

func (a *API) respondText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, body); err != nil {
		a.Logger.Error("Could not write text body", "error", err.Error())
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, err error, msg string) {
	type response struct {
		Error  bool   `json:"error"`
		Reason string `json:"reason"`
	}
	if status >= http.StatusInternalServerError {
		a.Logger.Error("Error", "error", err.Error())
	} else {
		a.Logger.Debug("Rejected request", "error", err.Error())
	}
	a.respond(w, status, response{Error: true, Reason: msg})
}

type message struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

func newMessage(msg Message, status string) message {
	return message{
		ID:        msg.ID,
		Message:   msg.Content,
		Timestamp: msg.CreatedAt.UTC().Format(TimestampLayout),
		Status:    status,
	}
}

func (a *API) index(w http.ResponseWriter, _ *http.Request) {
	a.respondText(w, http.StatusOK, "Welcome to the API!")
}

func (a *API) hello(w http.ResponseWriter, _ *http.Request) {
	a.respondText(w, http.StatusOK, "Hello World!")
}

func (a *API) helloJSON(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	}
	a.respond(w, http.StatusOK, response{Message: "Hello World!", Status: "success"})
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}

	n, err := a.DB.CountMessages(r.Context())
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Database unavailable")
		return
	}
	a.Logger.Debug("Health check", "messages", n)
	a.respond(w, http.StatusOK, response{Status: "healthy", Database: "connected"})
}

func (a *API) createMessage(w http.ResponseWriter, r *http.Request) {
	type request struct {
		Message string `json:"message" validate:"notblank"`
	}

	var body request
	err := json.NewDecoder(r.Body).Decode(&body)
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Could not decode request body")
		return
	}
	r.Body.Close()

	if err := a.Validate.Struct(body); err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Message cannot be empty")
		return
	}

	msg, err := a.DB.InsertMessage(r.Context(), Message{Content: body.Message})
	if errors.Is(err, ErrEmptyContent) {
		a.respondError(w, http.StatusBadRequest, err, "Message cannot be empty")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not save message")
		return
	}

	if a.Cache != nil {
		if err := a.Cache.InsertMessage(r.Context(), msg); err != nil {
			a.Logger.Error("Could not cache message", "error", err.Error())
		}
	}

	a.respond(w, http.StatusOK, newMessage(msg, "Message saved successfully"))
}

func (a *API) latestMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := a.DB.LatestMessage(r.Context())
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "No messages found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not get message")
		return
	}
	a.respond(w, http.StatusOK, newMessage(msg, "success"))
}

func (a *API) latestMessageText(w http.ResponseWriter, r *http.Request) {
	text, err := LatestText(r.Context(), a.DB)
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not get message")
		return
	}
	a.respondText(w, http.StatusOK, text)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.DB.ListMessages(r.Context())
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not list messages")
		return
	}
	a.Logger.Debug("Got messages from DB", "count", len(msgs))

	out := make([]message, len(msgs))
	for i, msg := range msgs {
		out[i] = newMessage(msg, "success")
	}
	a.respond(w, http.StatusOK, out)
}

func (a *API) getMessage(w http.ResponseWriter, r *http.Request) {
	id, err := ParseID(r.PathValue("messageID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid message ID")
		return
	}

	if a.Cache != nil {
		m, err := a.Cache.GetMessage(r.Context(), id)
		switch {
		case err == nil:
			a.respond(w, http.StatusOK, newMessage(*m, "success"))
			return
		case !errors.Is(err, ErrCacheMiss):
			a.Logger.Error("Error getting message from cache, trying database", "error", err.Error())
		}
	}

	msg, err := a.DB.GetMessage(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "Message not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not get message")
		return
	}

	if a.Cache != nil {
		if err := a.Cache.InsertMessage(r.Context(), msg); err != nil {
			a.Logger.Error("Could not cache message", "error", err.Error())
		}
	}

	a.respond(w, http.StatusOK, newMessage(msg, "success"))
}

func (a *API) deleteMessages(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}

	if err := a.DB.DeleteMessages(r.Context()); err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not delete messages")
		return
	}

	if a.Cache != nil {
		if err := a.Cache.DeleteMessages(r.Context()); err != nil {
			a.Logger.Error("Could not clear the cache", "error", err.Error())
		}
	}

	a.respond(w, http.StatusOK, response{Status: "All messages deleted"})
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
		ID     string `json:"id"`
	}

	id, err := ParseID(r.PathValue("messageID"))
	if err != nil {
		a.respondError(w, http.StatusBadRequest, err, "Invalid message ID")
		return
	}

	err = a.DB.DeleteMessage(r.Context(), id)
	if errors.Is(err, ErrNotFound) {
		a.respondError(w, http.StatusNotFound, err, "Message not found")
		return
	}
	if err != nil {
		a.respondError(w, http.StatusInternalServerError, err, "Could not delete message")
		return
	}

	if a.Cache != nil {
		if err := a.Cache.DeleteMessage(r.Context(), id); err != nil {
			a.Logger.Error("Could not evict message from cache", "error", err.Error())
		}
	}

	a.respond(w, http.StatusOK, response{Status: "Message deleted", ID: id})
}
