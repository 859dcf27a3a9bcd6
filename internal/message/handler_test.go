package message

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/eren/reddilite/internal/auth"
	"github.com/eren/reddilite/internal/models"
	"github.com/eren/reddilite/internal/store"
)

// ── fakes ────────────────────────────────────────────────────

type fakeMessageStore struct {
	msgs map[string]*models.Message
	// casConflicts makes the next n CompareAndSwapVotes calls fail, as if
	// a concurrent voter had won the race.
	casConflicts int
}

func newFakeMessageStore() *fakeMessageStore {
	return &fakeMessageStore{msgs: map[string]*models.Message{}}
}

func (s *fakeMessageStore) InsertMessage(_ context.Context, msg *models.Message) (string, error) {
	msg.ID = primitive.NewObjectID()
	msg.CreatedAt = time.Now()
	cp := *msg
	s.msgs[msg.ID.Hex()] = &cp
	return msg.ID.Hex(), nil
}

func (s *fakeMessageStore) ListMessages(_ context.Context) ([]models.Message, error) {
	var out []models.Message
	for _, m := range s.msgs {
		out = append(out, *m)
	}
	return out, nil
}

func (s *fakeMessageStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	m, ok := s.msgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *fakeMessageStore) UpdateMessageText(_ context.Context, id, title, text string) (*models.Message, error) {
	m, ok := s.msgs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.Title, m.Text = title, text
	cp := *m
	return &cp, nil
}

func (s *fakeMessageStore) DeleteMessage(_ context.Context, id string) error {
	if _, ok := s.msgs[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.msgs, id)
	return nil
}

func (s *fakeMessageStore) CompareAndSwapVotes(_ context.Context, id string, oldUp, oldDown, newUp, newDown []string) (bool, error) {
	m, ok := s.msgs[id]
	if !ok {
		return false, store.ErrNotFound
	}
	if s.casConflicts > 0 {
		s.casConflicts--
		return false, nil
	}
	if !slices.Equal(m.UpvoterIDs, oldUp) || !slices.Equal(m.DownvoterIDs, oldDown) {
		return false, nil
	}
	m.UpvoterIDs, m.DownvoterIDs = newUp, newDown
	return true, nil
}

type fakeCommentStore struct {
	comments map[string]*models.Comment
}

func newFakeCommentStore() *fakeCommentStore {
	return &fakeCommentStore{comments: map[string]*models.Comment{}}
}

func (s *fakeCommentStore) InsertComment(_ context.Context, c *models.Comment) (string, error) {
	c.ID = primitive.NewObjectID()
	c.CreatedAt = time.Now()
	cp := *c
	s.comments[c.ID.Hex()] = &cp
	return c.ID.Hex(), nil
}

func (s *fakeCommentStore) ListComments(_ context.Context, messageID string) ([]models.Comment, error) {
	var out []models.Comment
	for _, c := range s.comments {
		if c.MessageID == messageID {
			out = append(out, *c)
		}
	}
	slices.SortFunc(out, func(a, b models.Comment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *fakeCommentStore) GetComment(_ context.Context, id string) (*models.Comment, error) {
	c, ok := s.comments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeCommentStore) DeleteComment(_ context.Context, id string) error {
	if _, ok := s.comments[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.comments, id)
	return nil
}

func (s *fakeCommentStore) DeleteCommentsByMessage(_ context.Context, messageID string) error {
	for id, c := range s.comments {
		if c.MessageID == messageID {
			delete(s.comments, id)
		}
	}
	return nil
}

type fakeFileStore struct {
	objects map[string][]byte
	removed []string
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{objects: map[string][]byte{}}
}

func (s *fakeFileStore) Upload(_ context.Context, key string, data []byte, _ string) error {
	s.objects[key] = data
	return nil
}

func (s *fakeFileStore) Download(_ context.Context, key string) ([]byte, string, error) {
	data, ok := s.objects[key]
	if !ok {
		return nil, "", fmt.Errorf("no such object %q", key)
	}
	return data, "image/png", nil
}

func (s *fakeFileStore) Remove(_ context.Context, key string) error {
	delete(s.objects, key)
	s.removed = append(s.removed, key)
	return nil
}

type fakeTextGenerator struct {
	summary   string
	community string
}

func (g *fakeTextGenerator) Summarize(context.Context, string) string {
	if g.summary == "" {
		return DefaultSummary
	}
	return g.summary
}

func (g *fakeTextGenerator) SuggestCommunity(context.Context, string, string) string {
	if g.community == "" {
		return DefaultCommunity
	}
	return g.community
}

// ── harness ──────────────────────────────────────────────────

type env struct {
	msgs     *fakeMessageStore
	comments *fakeCommentStore
	files    *fakeFileStore
	ai       *fakeTextGenerator
	router   *chi.Mux
}

func newEnv() *env {
	e := &env{
		msgs:     newFakeMessageStore(),
		comments: newFakeCommentStore(),
		files:    newFakeFileStore(),
		ai:       &fakeTextGenerator{},
	}
	h := NewHandler(e.msgs, e.comments, e.files, e.ai)

	r := chi.NewRouter()
	r.Get("/api/messages", h.List)
	r.Post("/api/messages", h.Create)
	r.Delete("/api/messages/comments/{id}", h.DeleteComment)
	r.Get("/api/messages/{id}/summarize", h.Summarize)
	r.Get("/api/messages/{id}/comments", h.ListComments)
	r.Post("/api/messages/{id}/comments", h.AddComment)
	r.Post("/api/messages/{id}/vote", h.Vote)
	r.Put("/api/messages/{id}", h.Update)
	r.Delete("/api/messages/{id}", h.Delete)
	r.Post("/api/uploads", h.UploadImage)
	r.Get("/api/images/{key}", h.GetImage)
	e.router = r
	return e
}

var (
	alice = &auth.Identity{UserID: "uid-alice", Username: "alice"}
	bob   = &auth.Identity{UserID: "uid-bob", Username: "bob"}
)

func (e *env) do(t *testing.T, method, target string, body interface{}, ident *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if ident != nil {
		req = req.WithContext(context.WithValue(req.Context(), "identity", ident))
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) seedMessage(t *testing.T, owner *auth.Identity, title string) string {
	t.Helper()
	id, err := e.msgs.InsertMessage(context.Background(), &models.Message{
		Title:        title,
		Text:         "some text",
		Community:    "general",
		Author:       owner.Username,
		UserID:       owner.UserID,
		UpvoterIDs:   []string{},
		DownvoterIDs: []string{},
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return id
}

func decodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

// ── tests ────────────────────────────────────────────────────

func TestCreateRequiresTitleAndText(t *testing.T) {
	e := newEnv()
	w := e.do(t, http.MethodPost, "/api/messages", models.CreateMessageRequest{Title: "hi"}, alice)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateSuggestsCommunityWhenOmitted(t *testing.T) {
	e := newEnv()
	e.ai.community = "tech"

	w := e.do(t, http.MethodPost, "/api/messages", models.CreateMessageRequest{Title: "Hi", Text: "World"}, alice)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	msg := decodeJSON[models.Message](t, w)
	if msg.Community != "tech" {
		t.Errorf("community = %q, want suggestion %q", msg.Community, "tech")
	}
	if msg.Author != "alice" || msg.UserID != "uid-alice" {
		t.Errorf("author fields = (%q, %q), want alice's identity", msg.Author, msg.UserID)
	}
}

func TestCreateKeepsExplicitCommunity(t *testing.T) {
	e := newEnv()
	e.ai.community = "tech"

	w := e.do(t, http.MethodPost, "/api/messages",
		models.CreateMessageRequest{Title: "Hi", Text: "World", Community: "cooking"}, alice)
	msg := decodeJSON[models.Message](t, w)
	if msg.Community != "cooking" {
		t.Errorf("community = %q, want %q", msg.Community, "cooking")
	}
}

func TestVoteToggleRoundTrip(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")

	w := e.do(t, http.MethodPost, "/api/messages/"+id+"/vote", models.VoteRequest{Type: "up"}, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	res := decodeJSON[models.VoteResult](t, w)
	if res.Upvotes != 1 || res.Downvotes != 0 || res.Score != 1 {
		t.Fatalf("after first up: %+v", res)
	}

	w = e.do(t, http.MethodPost, "/api/messages/"+id+"/vote", models.VoteRequest{Type: "up"}, alice)
	res = decodeJSON[models.VoteResult](t, w)
	if res.Upvotes != 0 || res.Downvotes != 0 || res.Score != 0 {
		t.Fatalf("after second up (toggle off): %+v", res)
	}
}

func TestVoteSwitchesDirection(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")

	e.do(t, http.MethodPost, "/api/messages/"+id+"/vote", models.VoteRequest{Type: "up"}, bob)
	w := e.do(t, http.MethodPost, "/api/messages/"+id+"/vote", models.VoteRequest{Type: "down"}, bob)
	res := decodeJSON[models.VoteResult](t, w)
	if res.Upvotes != 0 || res.Downvotes != 1 || res.Score != -1 {
		t.Fatalf("after up-then-down: %+v", res)
	}

	msg, _ := e.msgs.GetMessage(context.Background(), id)
	if contains(msg.UpvoterIDs, bob.UserID) || !contains(msg.DownvoterIDs, bob.UserID) {
		t.Errorf("bob should only be in downvoters: up=%v down=%v", msg.UpvoterIDs, msg.DownvoterIDs)
	}
}

func TestVoteRetriesOnConflict(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")
	e.msgs.casConflicts = 2

	w := e.do(t, http.MethodPost, "/api/messages/"+id+"/vote", models.VoteRequest{Type: "up"}, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 after retries (body %s)", w.Code, w.Body.String())
	}
	res := decodeJSON[models.VoteResult](t, w)
	if res.Upvotes != 1 {
		t.Fatalf("vote lost under conflict: %+v", res)
	}
}

func TestVoteGivesUpAfterRepeatedConflicts(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")
	e.msgs.casConflicts = voteRetries + 1

	w := e.do(t, http.MethodPost, "/api/messages/"+id+"/vote", models.VoteRequest{Type: "up"}, alice)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 after exhausting retries", w.Code)
	}
}

func TestVoteRejectsBadDirection(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")

	w := e.do(t, http.MethodPost, "/api/messages/"+id+"/vote", models.VoteRequest{Type: "sideways"}, alice)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestVoteUnknownMessage(t *testing.T) {
	e := newEnv()
	w := e.do(t, http.MethodPost, "/api/messages/"+primitive.NewObjectID().Hex()+"/vote",
		models.VoteRequest{Type: "up"}, alice)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDeleteByNonOwnerIsForbidden(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")

	w := e.do(t, http.MethodDelete, "/api/messages/"+id, nil, bob)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if _, err := e.msgs.GetMessage(context.Background(), id); err != nil {
		t.Errorf("message must survive a forbidden delete: %v", err)
	}
}

func TestDeleteWithoutIdentityIsUnauthorized(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")

	w := e.do(t, http.MethodDelete, "/api/messages/"+id, nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestDeleteByOwnerCascades(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")
	e.do(t, http.MethodPost, "/api/messages/"+id+"/comments", models.CreateCommentRequest{Text: "nice"}, bob)
	e.files.objects["pic.png"] = []byte("png")
	m := e.msgs.msgs[id]
	m.ImageURL = imagePathPrefix + "pic.png"

	w := e.do(t, http.MethodDelete, "/api/messages/"+id, nil, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	if comments, _ := e.comments.ListComments(context.Background(), id); len(comments) != 0 {
		t.Errorf("comments should be deleted with the message, got %d", len(comments))
	}
	if !slices.Contains(e.files.removed, "pic.png") {
		t.Errorf("uploaded image should be removed, removed=%v", e.files.removed)
	}
}

func TestUpdateByNonOwnerIsForbidden(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")

	w := e.do(t, http.MethodPut, "/api/messages/"+id, models.UpdateMessageRequest{Title: "Hacked"}, bob)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func TestUpdateKeepsUnsetFields(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")

	w := e.do(t, http.MethodPut, "/api/messages/"+id, models.UpdateMessageRequest{Title: "New title"}, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", w.Code, w.Body.String())
	}
	msg := decodeJSON[models.Message](t, w)
	if msg.Title != "New title" || msg.Text != "some text" {
		t.Errorf("got (%q, %q), want updated title and original text", msg.Title, msg.Text)
	}
}

func TestListSortsTopByDerivedScore(t *testing.T) {
	e := newEnv()
	low := e.seedMessage(t, alice, "low")
	high := e.seedMessage(t, alice, "high")
	e.do(t, http.MethodPost, "/api/messages/"+high+"/vote", models.VoteRequest{Type: "up"}, alice)
	e.do(t, http.MethodPost, "/api/messages/"+high+"/vote", models.VoteRequest{Type: "up"}, bob)
	e.do(t, http.MethodPost, "/api/messages/"+low+"/vote", models.VoteRequest{Type: "down"}, bob)

	w := e.do(t, http.MethodGet, "/api/messages?sort=top", nil, nil)
	msgs := decodeJSON[[]models.Message](t, w)
	if len(msgs) != 2 || msgs[0].Title != "high" || msgs[1].Title != "low" {
		t.Fatalf("top order wrong: %v", titles(msgs))
	}
	if msgs[0].Score != 2 || msgs[1].Score != -1 {
		t.Errorf("derived scores = (%d, %d), want (2, -1)", msgs[0].Score, msgs[1].Score)
	}
}

func TestCommentsReturnedInChronologicalOrder(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")
	for _, text := range []string{"first", "second", "third"} {
		w := e.do(t, http.MethodPost, "/api/messages/"+id+"/comments", models.CreateCommentRequest{Text: text}, bob)
		if w.Code != http.StatusCreated {
			t.Fatalf("add comment %q: status %d", text, w.Code)
		}
		time.Sleep(time.Millisecond)
	}

	w := e.do(t, http.MethodGet, "/api/messages/"+id+"/comments", nil, nil)
	comments := decodeJSON[[]models.Comment](t, w)
	if len(comments) != 3 {
		t.Fatalf("got %d comments, want 3", len(comments))
	}
	for i := 1; i < len(comments); i++ {
		if comments[i].CreatedAt.Before(comments[i-1].CreatedAt) {
			t.Errorf("comments out of order at %d", i)
		}
	}
	if comments[0].Text != "first" || comments[2].Text != "third" {
		t.Errorf("order = [%s %s %s]", comments[0].Text, comments[1].Text, comments[2].Text)
	}
}

func TestCommentOnMissingMessage(t *testing.T) {
	e := newEnv()
	w := e.do(t, http.MethodPost, "/api/messages/"+primitive.NewObjectID().Hex()+"/comments",
		models.CreateCommentRequest{Text: "hello"}, alice)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDeleteCommentByNonOwnerIsForbidden(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")
	w := e.do(t, http.MethodPost, "/api/messages/"+id+"/comments", models.CreateCommentRequest{Text: "mine"}, bob)
	comment := decodeJSON[models.Comment](t, w)

	w = e.do(t, http.MethodDelete, "/api/messages/comments/"+comment.ID.Hex(), nil, alice)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}

	w = e.do(t, http.MethodDelete, "/api/messages/comments/"+comment.ID.Hex(), nil, bob)
	if w.Code != http.StatusOK {
		t.Fatalf("owner delete status = %d, want 200", w.Code)
	}
}

func TestSummarizeDegradesToDefault(t *testing.T) {
	e := newEnv()
	id := e.seedMessage(t, alice, "Hi")

	w := e.do(t, http.MethodGet, "/api/messages/"+id+"/summarize", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	res := decodeJSON[map[string]string](t, w)
	if res["summary"] != DefaultSummary {
		t.Errorf("summary = %q, want default", res["summary"])
	}
}

func TestSummarizeMissingMessage(t *testing.T) {
	e := newEnv()
	w := e.do(t, http.MethodGet, "/api/messages/"+primitive.NewObjectID().Hex()+"/summarize", nil, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

// Full walk through the register→post→vote→forbidden-delete scenario,
// minus the auth layer which has its own tests.
func TestVoteAndOwnershipScenario(t *testing.T) {
	e := newEnv()

	w := e.do(t, http.MethodPost, "/api/messages", models.CreateMessageRequest{Title: "Hi", Text: "World"}, alice)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status %d", w.Code)
	}
	msg := decodeJSON[models.Message](t, w)
	if msg.Community != DefaultCommunity {
		t.Fatalf("community = %q, want default", msg.Community)
	}
	id := msg.ID.Hex()

	res := decodeJSON[models.VoteResult](t, e.do(t, http.MethodPost, "/api/messages/"+id+"/vote", models.VoteRequest{Type: "up"}, alice))
	if res.Score != 1 {
		t.Fatalf("score after upvote = %d, want 1", res.Score)
	}

	res = decodeJSON[models.VoteResult](t, e.do(t, http.MethodPost, "/api/messages/"+id+"/vote", models.VoteRequest{Type: "up"}, alice))
	if res.Score != 0 {
		t.Fatalf("score after toggle off = %d, want 0", res.Score)
	}

	if w := e.do(t, http.MethodDelete, "/api/messages/"+id, nil, bob); w.Code != http.StatusForbidden {
		t.Fatalf("bob deleting alice's post: status %d, want 403", w.Code)
	}
}

// newMultipart writes a single-file multipart body and returns its
// Content-Type header value.
func newMultipart(t *testing.T, buf *bytes.Buffer, field, filename string, data []byte) string {
	t.Helper()
	mw := multipart.NewWriter(buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return mw.FormDataContentType()
}

func (e *env) upload(t *testing.T, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	contentType := newMultipart(t, &buf, "image", filename, data)

	req := httptest.NewRequest(http.MethodPost, "/api/uploads", &buf)
	req.Header.Set("Content-Type", contentType)
	req = req.WithContext(context.WithValue(req.Context(), "identity", alice))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestUploadRejectsNonImage(t *testing.T) {
	e := newEnv()
	w := e.upload(t, "notes.txt", []byte("plain text, clearly not an image"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body %s)", w.Code, w.Body.String())
	}
}

func TestUploadAndServeImage(t *testing.T) {
	e := newEnv()

	// Minimal PNG header so content detection sees an image.
	png := append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 100)...)

	w := e.upload(t, "pic.png", png)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
	res := decodeJSON[map[string]string](t, w)
	url := res["imageURL"]
	if !strings.HasPrefix(url, imagePathPrefix) {
		t.Fatalf("imageURL = %q, want %s prefix", url, imagePathPrefix)
	}

	get := e.do(t, http.MethodGet, url, nil, nil)
	if get.Code != http.StatusOK {
		t.Fatalf("serving uploaded image: status %d", get.Code)
	}
	if !bytes.Equal(get.Body.Bytes(), png) {
		t.Error("served image bytes differ from upload")
	}
}
