package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// rewriteTransport redirects every request to the test server regardless of
// the original host, keeping the path and query intact.
type rewriteTransport struct {
	host string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(req)
}

func testClient(t *testing.T, handler http.HandlerFunc) *CommentsClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &CommentsClient{
		ClientID:   "test-client-id",
		HTTPClient: &http.Client{Transport: rewriteTransport{host: srv.Listener.Addr().String()}},
	}
}

func TestCommentsByOffset(t *testing.T) {
	cc := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v5/videos/123456/comments" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("content_offset_seconds"); got != "42" {
			t.Errorf("content_offset_seconds = %q, want 42", got)
		}
		if got := r.Header.Get("Client-ID"); got != "test-client-id" {
			t.Errorf("Client-ID = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/vnd.twitchtv.v5+json" {
			t.Errorf("Accept = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"comments": [
				{
					"_id": "c1",
					"content_offset_seconds": 42.25,
					"message": {
						"body": "hello",
						"user_badges": [{"_id": "moderator", "version": "1"}],
						"user_color": "#1E90FF"
					},
					"commenter": {"_id": "u1", "display_name": "Someone", "name": "someone"}
				}
			],
			"_next": "cursor-1"
		}`))
	})

	page, err := cc.CommentsByOffset(context.Background(), "123456", 42)
	if err != nil {
		t.Fatalf("CommentsByOffset: %v", err)
	}
	if len(page.Comments) != 1 {
		t.Fatalf("comments = %d, want 1", len(page.Comments))
	}
	c := page.Comments[0]
	if c.ID != "c1" || c.ContentOffsetSeconds != 42.25 || c.Message.Body != "hello" {
		t.Fatalf("comment = %+v", c)
	}
	if c.Commenter.DisplayName != "Someone" {
		t.Fatalf("commenter = %+v", c.Commenter)
	}
	if len(c.Message.UserBadges) != 1 || c.Message.UserBadges[0].ID != "moderator" {
		t.Fatalf("badges = %+v", c.Message.UserBadges)
	}
	if page.Next != "cursor-1" {
		t.Fatalf("next = %q", page.Next)
	}
}

func TestCommentsByCursor(t *testing.T) {
	cc := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("cursor"); got != "abc123" {
			t.Errorf("cursor = %q, want abc123", got)
		}
		_, _ = w.Write([]byte(`{"comments": [], "_next": ""}`))
	})

	page, err := cc.CommentsByCursor(context.Background(), "123456", "abc123")
	if err != nil {
		t.Fatalf("CommentsByCursor: %v", err)
	}
	if page.Next != "" {
		t.Fatalf("next = %q, want empty", page.Next)
	}
}

func TestCommentsStatusError(t *testing.T) {
	cc := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	_, err := cc.CommentsByOffset(context.Background(), "123456", 0)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want StatusError", err)
	}
	if statusErr.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", statusErr.Code)
	}
}

func TestCommentsEmptyVODID(t *testing.T) {
	cc := &CommentsClient{ClientID: "x"}
	if _, err := cc.CommentsByOffset(context.Background(), "", 0); err == nil {
		t.Fatal("expected error for empty vod id")
	}
}
