package message

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eren/reddilite/internal/auth"
	"github.com/eren/reddilite/internal/models"
	"github.com/eren/reddilite/internal/store"
)

// voteRetries bounds the compare-and-swap loop under vote contention.
const voteRetries = 5

const maxUploadBytes = 10 << 20

// imagePathPrefix is where uploaded images are served from.
const imagePathPrefix = "/api/images/"

// MessageStore defines the interface for message persistence.
type MessageStore interface {
	InsertMessage(ctx context.Context, msg *models.Message) (string, error)
	ListMessages(ctx context.Context) ([]models.Message, error)
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	UpdateMessageText(ctx context.Context, id, title, text string) (*models.Message, error)
	DeleteMessage(ctx context.Context, id string) error
	CompareAndSwapVotes(ctx context.Context, id string, oldUp, oldDown, newUp, newDown []string) (bool, error)
}

// CommentStore defines the interface for comment persistence.
type CommentStore interface {
	InsertComment(ctx context.Context, c *models.Comment) (string, error)
	ListComments(ctx context.Context, messageID string) ([]models.Comment, error)
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	DeleteComment(ctx context.Context, id string) error
	DeleteCommentsByMessage(ctx context.Context, messageID string) error
}

// FileStore defines the interface for image storage.
type FileStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, string, error)
	Remove(ctx context.Context, key string) error
}

// TextGenerator is the best-effort AI collaborator. Implementations return
// defaults on failure, never errors.
type TextGenerator interface {
	Summarize(ctx context.Context, text string) string
	SuggestCommunity(ctx context.Context, title, text string) string
}

// Handler holds message, comment and vote HTTP handlers.
type Handler struct {
	messages MessageStore
	comments CommentStore
	files    FileStore
	ai       TextGenerator
}

func NewHandler(messages MessageStore, comments CommentStore, files FileStore, ai TextGenerator) *Handler {
	return &Handler{messages: messages, comments: comments, files: files, ai: ai}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

func identityFrom(r *http.Request) (*auth.Identity, bool) {
	ident, ok := r.Context().Value("identity").(*auth.Identity)
	return ident, ok
}

// List returns all messages, ?sort=new (default) or ?sort=top.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.messages.ListMessages(r.Context())
	if err != nil {
		log.Printf("list messages error: %v", err)
		writeError(w, http.StatusInternalServerError, "store_error", "database error")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	SortMessages(msgs, r.URL.Query().Get("sort"))
	for i := range msgs {
		msgs[i].Score = Score(&msgs[i])
	}
	writeJSON(w, http.StatusOK, msgs)
}

// Create stores a new message. When no community is given the AI
// collaborator suggests one; its failure never blocks creation.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "not authenticated")
		return
	}

	var req models.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if req.Title == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "title and text are required")
		return
	}

	community := req.Community
	if community == "" || community == DefaultCommunity {
		community = h.ai.SuggestCommunity(r.Context(), req.Title, req.Text)
	}

	msg := &models.Message{
		Title:        req.Title,
		Text:         req.Text,
		ImageURL:     req.ImageURL,
		Community:    community,
		Author:       ident.Username,
		UserID:       ident.UserID,
		UpvoterIDs:   []string{},
		DownvoterIDs: []string{},
	}
	id, err := h.messages.InsertMessage(r.Context(), msg)
	if err != nil {
		log.Printf("insert message error: %v", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to save message")
		return
	}

	saved, err := h.messages.GetMessage(r.Context(), id)
	if err != nil {
		log.Printf("fetch created message error: %v", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to load message")
		return
	}
	saved.Score = Score(saved)
	writeJSON(w, http.StatusCreated, saved)
}

// Update changes a message's title and/or text. Author only, matched on
// user id, never on the denormalized username.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "not authenticated")
		return
	}
	id := chi.URLParam(r, "id")

	var req models.UpdateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	msg, err := h.messages.GetMessage(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "message not found")
		return
	}
	if msg.UserID != ident.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "you can only edit your own posts")
		return
	}

	title, text := req.Title, req.Text
	if title == "" {
		title = msg.Title
	}
	if text == "" {
		text = msg.Text
	}

	updated, err := h.messages.UpdateMessageText(r.Context(), id, title, text)
	if err != nil {
		h.storeError(w, err, "message not found")
		return
	}
	updated.Score = Score(updated)
	writeJSON(w, http.StatusOK, updated)
}

// Delete removes a message, its comments, and its uploaded image if any.
// Author only.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "not authenticated")
		return
	}
	id := chi.URLParam(r, "id")

	msg, err := h.messages.GetMessage(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "message not found")
		return
	}
	if msg.UserID != ident.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "you can only delete your own posts")
		return
	}

	if err := h.messages.DeleteMessage(r.Context(), id); err != nil {
		h.storeError(w, err, "message not found")
		return
	}
	if err := h.comments.DeleteCommentsByMessage(r.Context(), id); err != nil {
		log.Printf("delete comments of %s error: %v", id, err)
	}
	if key, ok := strings.CutPrefix(msg.ImageURL, imagePathPrefix); ok && key != "" {
		if err := h.files.Remove(r.Context(), key); err != nil {
			log.Printf("remove image %s error: %v", key, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "post deleted"})
}

// Vote applies toggle semantics to the caller's vote. The read-modify-write
// runs as a compare-and-swap on the prior vote sets and retries on
// conflict, so concurrent voters never lose an update.
func (h *Handler) Vote(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "not authenticated")
		return
	}
	id := chi.URLParam(r, "id")

	var req models.VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	dir, ok := ParseDirection(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_vote", `vote type must be "up" or "down"`)
		return
	}

	for i := 0; i < voteRetries; i++ {
		msg, err := h.messages.GetMessage(r.Context(), id)
		if err != nil {
			h.storeError(w, err, "message not found")
			return
		}

		newUp, newDown := ToggleVote(msg.UpvoterIDs, msg.DownvoterIDs, ident.UserID, dir)
		swapped, err := h.messages.CompareAndSwapVotes(r.Context(), id, msg.UpvoterIDs, msg.DownvoterIDs, newUp, newDown)
		if err != nil {
			h.storeError(w, err, "message not found")
			return
		}
		if swapped {
			writeJSON(w, http.StatusOK, models.VoteResult{
				Success:   true,
				Upvotes:   len(newUp),
				Downvotes: len(newDown),
				Score:     len(newUp) - len(newDown),
			})
			return
		}
	}

	writeError(w, http.StatusInternalServerError, "vote_conflict", "voting failed, try again")
}

// Summarize returns an AI summary of the message text. Collaborator
// failures degrade to a default summary, never an error.
func (h *Handler) Summarize(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msg, err := h.messages.GetMessage(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "message not found")
		return
	}

	summary := h.ai.Summarize(r.Context(), msg.Text)
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

// ListComments returns a message's comments oldest first.
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	comments, err := h.comments.ListComments(r.Context(), id)
	if err != nil {
		log.Printf("list comments error: %v", err)
		writeError(w, http.StatusInternalServerError, "store_error", "database error")
		return
	}
	if comments == nil {
		comments = []models.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

// AddComment creates a comment on an existing message.
func (h *Handler) AddComment(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "not authenticated")
		return
	}
	id := chi.URLParam(r, "id")

	var req models.CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "missing_fields", "text is required")
		return
	}

	if _, err := h.messages.GetMessage(r.Context(), id); err != nil {
		h.storeError(w, err, "message not found")
		return
	}

	comment := &models.Comment{
		Text:      req.Text,
		Author:    ident.Username,
		UserID:    ident.UserID,
		MessageID: id,
	}
	cid, err := h.comments.InsertComment(r.Context(), comment)
	if err != nil {
		log.Printf("insert comment error: %v", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to add comment")
		return
	}

	saved, err := h.comments.GetComment(r.Context(), cid)
	if err != nil {
		log.Printf("fetch created comment error: %v", err)
		writeError(w, http.StatusInternalServerError, "store_error", "failed to load comment")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

// DeleteComment removes a comment. Author only, matched on user id.
func (h *Handler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	ident, ok := identityFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "not authenticated")
		return
	}
	id := chi.URLParam(r, "id")

	comment, err := h.comments.GetComment(r.Context(), id)
	if err != nil {
		h.storeError(w, err, "comment not found")
		return
	}
	if comment.UserID != ident.UserID {
		writeError(w, http.StatusForbidden, "forbidden", "you can only delete your own comments")
		return
	}

	if err := h.comments.DeleteComment(r.Context(), id); err != nil {
		h.storeError(w, err, "comment not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "comment deleted"})
}

// UploadImage stores a multipart image and returns the URL it will be
// served from.
func (h *Handler) UploadImage(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_fields", "image file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to read image")
		return
	}

	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "invalid_image", "file is not an image")
		return
	}

	key := uuid.New().String() + filepath.Ext(header.Filename)
	if err := h.files.Upload(r.Context(), key, data, contentType); err != nil {
		log.Printf("image upload error: %v", err)
		writeError(w, http.StatusInternalServerError, "store_error", "upload failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"imageURL": imagePathPrefix + key})
}

// GetImage streams an uploaded image back.
func (h *Handler) GetImage(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	data, contentType, err := h.files.Download(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "image not found")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (h *Handler) storeError(w http.ResponseWriter, err error, notFoundMsg string) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", notFoundMsg)
		return
	}
	log.Printf("store error: %v", err)
	writeError(w, http.StatusInternalServerError, "store_error", "database error")
}
