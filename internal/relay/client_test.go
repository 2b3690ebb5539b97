package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fixedTZ string

func (z fixedTZ) LookupTimeZone(_ context.Context, _ string) string {
	return string(z)
}

func newTestClient(url string, tz TimeZoneLookup) *Client {
	return NewClient(url, "", 5*time.Second, tz, nil)
}

func TestReply_NoUserMessageSkipsWebhook(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	_, err := c.Reply(context.Background(), Request{Messages: []Message{{Role: "assistant", Content: "hi"}}})
	if !errors.Is(err, ErrNoUserMessage) {
		t.Fatalf("expected ErrNoUserMessage, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("webhook should not be called")
	}
}

func TestReply_EnvelopeForKnownUser(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"response":"Hi!"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, fixedTZ("Europe/Paris"))
	reply, err := c.Reply(context.Background(), Request{
		Messages: []Message{
			{Role: "user", Content: "first"},
			{Role: "assistant", Content: "answer"},
			{Role: "user", Content: "latest"},
		},
		ChatID: "c1",
		UserID: "u1",
	})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "Hi!" {
		t.Fatalf("unexpected reply %q", reply)
	}

	if got["source"] != DefaultSource || got["userId"] != "u1" || got["chatId"] != "c1" {
		t.Fatalf("unexpected envelope: %v", got)
	}
	if got["conversationId"] != "conv_c1" || got["message"] != "latest" {
		t.Fatalf("unexpected envelope: %v", got)
	}
	if got["timezone"] != "Europe/Paris" {
		t.Fatalf("expected timezone, got %v", got["timezone"])
	}
	if id, _ := got["messageId"].(string); !strings.HasPrefix(id, "msg_") {
		t.Fatalf("unexpected message id %q", id)
	}
	ts, _ := got["timestamp"].(string)
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		t.Fatalf("timestamp not RFC3339: %q", ts)
	}
}

func TestReply_EnvelopeForAnonymousUser(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = io.WriteString(w, "plain text reply")
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, fixedTZ("Europe/Paris"))
	reply, err := c.Reply(context.Background(), Request{Messages: []Message{{Role: "user", Content: "hello"}}})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply != "plain text reply" {
		t.Fatalf("unexpected reply %q", reply)
	}

	if uid, _ := got["userId"].(string); !strings.HasPrefix(uid, "anonymous-") {
		t.Fatalf("expected anonymous user id, got %q", uid)
	}
	chatID, _ := got["chatId"].(string)
	if len(chatID) != 26 {
		t.Fatalf("expected generated ulid chat id, got %q", chatID)
	}
	if got["conversationId"] != "conv_"+chatID {
		t.Fatalf("conversation id mismatch: %v", got["conversationId"])
	}
	if _, ok := got["timezone"]; ok {
		t.Fatalf("timezone must be omitted for anonymous users")
	}
}

func TestReply_Non2xxIsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	_, err := c.Reply(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	if !errors.Is(err, ErrWebhookFailed) {
		t.Fatalf("expected ErrWebhookFailed, got %v", err)
	}
}

func TestReply_UnreachableIsWebhookFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(url, nil)
	_, err := c.Reply(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	if !errors.Is(err, ErrWebhookFailed) {
		t.Fatalf("expected ErrWebhookFailed, got %v", err)
	}
}

func TestParseReply(t *testing.T) {
	const jsonCT = "application/json; charset=utf-8"
	cases := []struct {
		contentType string
		body        string
		want        string
	}{
		{jsonCT, `{"response":"a"}`, "a"},
		{jsonCT, `{"message":"b"}`, "b"},
		{jsonCT, `{"content":"c"}`, "c"},
		{jsonCT, `{"response":"a","message":"b"}`, "a"},
		{jsonCT, `{"response":"","message":"fallback"}`, "fallback"},
		{jsonCT, `{"response":"","message":"","content":""}`, "OK"},
		{jsonCT, `{"other":1}`, "OK"},
		{jsonCT, `[1,2]`, "OK"},
		{jsonCT, `"just a string"`, "just a string"},
		{jsonCT, `not json`, "not json"},
		{"text/plain", `{"note":"literal text"}`, `{"note":"literal text"}`},
		{"text/plain", `"quoted"`, `"quoted"`},
		{"", `plain reply`, "plain reply"},
	}
	for _, tc := range cases {
		if got := parseReply(tc.contentType, []byte(tc.body)); got != tc.want {
			t.Fatalf("parseReply(%q, %s) = %q, want %q", tc.contentType, tc.body, got, tc.want)
		}
	}
}

func TestReply_TextBodyIsReturnedVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, `{"note":"literal text"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, nil)
	got, err := c.Reply(context.Background(), Request{Messages: []Message{{Role: "user", Content: "x"}}})
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if got != `{"note":"literal text"}` {
		t.Fatalf("expected verbatim body, got %q", got)
	}
}
