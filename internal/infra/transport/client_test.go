package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"chatsync/internal/domain/chat"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	base, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("parse base URL: %v", err)
	}
	c, err := NewClient(Config{
		BaseURL: baseURL,
		Token:   "secret",
		Timeout: 2 * time.Second,
	}, chat.Normalizer{AssetBase: base}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestHistoryDecodesAndNormalizes(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/api/v1/conversations/c-1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages": [
			{"id": "m-1", "sender_id": 2, "content": "{\"message\": \"hi\"}", "sent_at": "2024-03-05T14:30:00.500123Z"},
			{"id": "m-2", "sender_id": 2, "content": "pic", "kind": "image", "attachment": "a.png", "sent_at": [2024, 3, 5, 14, 31, 0, 0]}
		]}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	messages, err := c.History(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(messages) != 2 {
		t.Fatalf("got %d messages", len(messages))
	}
	if messages[0].Content != "hi" {
		t.Fatalf("content not unwrapped: %q", messages[0].Content)
	}
	wantTS := time.Date(2024, 3, 5, 14, 30, 0, 500*int(time.Millisecond), time.UTC)
	if !messages[0].CreatedAt.Equal(wantTS) {
		t.Fatalf("timestamp = %v, want %v", messages[0].CreatedAt, wantTS)
	}
	if want := srv.URL + "/uploads/a.png"; messages[1].AttachmentURL != want {
		t.Fatalf("attachment = %q, want %q", messages[1].AttachmentURL, want)
	}
}

func TestHistoryUnknownConversationIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	messages, err := testClient(t, srv.URL).History(context.Background(), "nope")
	if err != nil {
		t.Fatalf("404 must map to empty, got %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("got %d messages", len(messages))
	}
}

func TestHistoryAuthRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).History(context.Background(), "c-1")
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if authErr.Status != http.StatusUnauthorized {
		t.Fatalf("status = %d", authErr.Status)
	}
}

func TestHistoryConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := testClient(t, srv.URL).History(context.Background(), "c-1")
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}

func TestSendTextCarriesIdempotencyKey(t *testing.T) {
	keys := make(map[string]bool)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if key == "" {
			t.Error("missing Idempotency-Key")
		}
		keys[key] = true
		var req struct {
			Content string `json:"content"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(chat.RawMessage{
			ID: "m-1", SenderID: 1, Content: req.Content, Kind: "text",
			SentAt: json.RawMessage(`"2024-03-05T14:30:00Z"`),
		})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	for i := 0; i < 2; i++ {
		m, err := c.SendText(context.Background(), "c-1", "hello")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		if m.ID != "m-1" || m.Content != "hello" {
			t.Fatalf("confirmed = %+v", m)
		}
	}
	if len(keys) != 2 {
		t.Fatalf("idempotency keys must be unique per request, got %d distinct", len(keys))
	}
}

func TestSendTextServerRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).SendText(context.Background(), "c-1", "hello")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("err = %v, want SendError", err)
	}
	if sendErr.Status != http.StatusInternalServerError {
		t.Fatalf("status = %d", sendErr.Status)
	}
}

func TestSendMediaRejectsBeforeNetwork(t *testing.T) {
	reached := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))
	defer srv.Close()
	c := testClient(t, srv.URL)

	cases := []struct {
		name     string
		filename string
		size     int64
		kind     chat.Kind
	}{
		{"oversized", "big.png", DefaultMaxUploadBytes + 1, chat.KindImage},
		{"bad extension", "script.exe", 10, chat.KindImage},
		{"text kind", "note.txt", 10, chat.KindText},
		{"empty file", "a.png", 0, chat.KindImage},
		{"no filename", "", 10, chat.KindImage},
	}
	for _, tc := range cases {
		_, err := c.SendMedia(context.Background(), "c-1", tc.filename, strings.NewReader("x"), tc.size, tc.kind)
		var valErr *ValidationError
		if !errors.As(err, &valErr) {
			t.Errorf("%s: err = %v, want ValidationError", tc.name, err)
		}
	}
	if reached {
		t.Fatal("validation rejection must not reach the network")
	}
}

func TestSendMediaUploadsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("kind"); got != "image" {
			t.Errorf("kind = %q", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("file part: %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "png bytes" || header.Filename != "a.png" {
			t.Errorf("file = %q name = %q", data, header.Filename)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(chat.RawMessage{
			ID: "m-5", SenderID: 1, Content: "a.png", Kind: "image",
			Attachment: "/uploads/a.png",
			SentAt:     json.RawMessage(`"2024-03-05T14:30:00Z"`),
		})
	}))
	defer srv.Close()

	body := "png bytes"
	m, err := testClient(t, srv.URL).SendMedia(context.Background(), "c-1", "a.png", strings.NewReader(body), int64(len(body)), chat.KindImage)
	if err != nil {
		t.Fatalf("send media: %v", err)
	}
	if want := srv.URL + "/uploads/a.png"; m.AttachmentURL != want {
		t.Fatalf("attachment = %q, want %q", m.AttachmentURL, want)
	}
}

func TestDeleteIsIdempotentOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s", r.Method)
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if err := testClient(t, srv.URL).Delete(context.Background(), "c-1", "m-1"); err != nil {
		t.Fatalf("delete of absent message must succeed, got %v", err)
	}
}

func TestDeleteRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	err := testClient(t, srv.URL).Delete(context.Background(), "c-1", "m-1")
	var delErr *DeleteError
	if !errors.As(err, &delErr) {
		t.Fatalf("err = %v, want DeleteError", err)
	}
	if delErr.Status != http.StatusConflict {
		t.Fatalf("status = %d", delErr.Status)
	}
}

func TestMarkReadPostsIDs(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			MessageIDs []string `json:"message_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		got = req.MessageIDs
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	if err := c.MarkRead(context.Background(), "c-1", []string{"m-1", "m-2"}); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if len(got) != 2 || got[0] != "m-1" || got[1] != "m-2" {
		t.Fatalf("posted ids = %v", got)
	}

	// No ids, no request.
	got = nil
	if err := c.MarkRead(context.Background(), "c-1", nil); err != nil {
		t.Fatalf("empty mark read: %v", err)
	}
	if got != nil {
		t.Fatal("empty mark read must not hit the backend")
	}
}

func TestNewClientRequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}, chat.Normalizer{}, nil); err == nil {
		t.Fatal("empty base URL must be rejected")
	}
}
