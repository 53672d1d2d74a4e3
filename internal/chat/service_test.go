package chat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-friendchat/internal/auth"
	myMiddleware "go-friendchat/internal/middleware"
)

type memMessages struct {
	saved  []*Message
	marked []string
}

func (m *memMessages) SaveMessage(_ context.Context, msg *Message) error {
	msg.CreatedAt = time.Now()
	m.saved = append(m.saved, msg)
	return nil
}

func (m *memMessages) GetConversationMessages(_ context.Context, conversationID string, limit int) ([]*Message, error) {
	out := []*Message{}
	for _, msg := range m.saved {
		if msg.ConversationID == conversationID {
			out = append(out, msg)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *memMessages) MarkRead(_ context.Context, conversationID, recipientID string) error {
	m.marked = append(m.marked, conversationID+"/"+recipientID)
	return nil
}

func (m *memMessages) GetMessageByID(_ context.Context, id string) (*Message, error) {
	for _, msg := range m.saved {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, ErrMessageNotFound
}

type pairFriends map[string]bool

func (p pairFriends) AreFriends(_ context.Context, a, b string) (bool, error) {
	return p[ConversationID(a, b)], nil
}

func TestServiceSend(t *testing.T) {
	store := &memMessages{}
	svc := NewService(store, pairFriends{"u1-u2": true})
	alice := auth.Identity{UserID: "u1", Username: "alice"}
	ctx := context.Background()

	msg, err := svc.Send(ctx, alice, &SendMessageRequest{Content: "  hi there  ", RecipientID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.Content)
	assert.Equal(t, "u1-u2", msg.ConversationID)
	assert.Equal(t, MessageTypeText, msg.Type)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "alice", msg.SenderUsername)

	_, err = svc.Send(ctx, alice, &SendMessageRequest{Content: "   ", RecipientID: "u2"})
	assert.ErrorIs(t, err, ErrContentRequired)

	_, err = svc.Send(ctx, alice, &SendMessageRequest{Content: strings.Repeat("é", MaxContentLength+1), RecipientID: "u2"})
	assert.ErrorIs(t, err, ErrContentTooLong)

	_, err = svc.Send(ctx, alice, &SendMessageRequest{Content: strings.Repeat("é", MaxContentLength), RecipientID: "u2"})
	assert.NoError(t, err)

	_, err = svc.Send(ctx, alice, &SendMessageRequest{Content: "hi", RecipientID: "u3"})
	assert.ErrorIs(t, err, ErrNotFriends)
	assert.Len(t, store.saved, 2)
}

func TestServiceHistoryMarksRead(t *testing.T) {
	store := &memMessages{}
	svc := NewService(store, pairFriends{"u1-u2": true})
	ctx := context.Background()

	_, err := svc.Send(ctx, auth.Identity{UserID: "u1"}, &SendMessageRequest{Content: "one", RecipientID: "u2"})
	require.NoError(t, err)

	msgs, err := svc.History(ctx, "u2", "u1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"u1-u2/u2"}, store.marked)

	_, err = svc.History(ctx, "u2", "")
	assert.ErrorIs(t, err, ErrRecipientRequired)

	_, err = svc.History(ctx, "u2", "u3")
	assert.ErrorIs(t, err, ErrNotFriends)
}

func TestMessageHandlers(t *testing.T) {
	svc := NewService(&memMessages{}, pairFriends{"u1-u2": true})
	h := NewHandler(nil, svc, nil, HandlerOptions{Logger: zerolog.Nop()})
	alice := auth.Identity{UserID: "u1", Username: "alice"}

	do := func(method, target, body string, handler http.HandlerFunc) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, target, strings.NewReader(body))
		req = req.WithContext(myMiddleware.WithIdentity(req.Context(), alice))
		rec := httptest.NewRecorder()
		handler(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/messages", `{"content":"hey","recipientId":"u2"}`, h.PostMessage)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"content":"hey"`)

	rec = do(http.MethodPost, "/api/messages", `{"content":"","recipientId":"u2"}`, h.PostMessage)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.MethodPost, "/api/messages", `{"content":"hey","recipientId":"u3"}`, h.PostMessage)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"you can only message friends"}`, rec.Body.String())

	rec = do(http.MethodGet, "/api/messages?recipientId=u2", "", h.GetMessages)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"messages":[`)

	rec = do(http.MethodGet, "/api/messages", "", h.GetMessages)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
