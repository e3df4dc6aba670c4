// Package twitchapi contains a minimal client for the Twitch VOD comments API
// and helpers to recognize twitch.tv URLs.
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const commentsBase = "https://api.twitch.tv/v5/videos"

// requestTimeout bounds a single page request.
const requestTimeout = 10 * time.Second

// StatusError is returned when the comments API answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("twitchapi: unexpected status %d", e.Code)
}

// Comment is one chat message as returned by the comments API.
type Comment struct {
	ID                   string      `json:"_id"`
	ContentOffsetSeconds float64     `json:"content_offset_seconds"`
	Message              CommentBody `json:"message"`
	Commenter            Commenter   `json:"commenter"`
}

// CommentBody is the nested message payload of a Comment.
type CommentBody struct {
	Body       string      `json:"body"`
	UserBadges []UserBadge `json:"user_badges"`
	UserColor  string      `json:"user_color"`
}

// UserBadge identifies one badge worn by the commenter.
type UserBadge struct {
	ID      string `json:"_id"`
	Version string `json:"version"`
}

// Commenter is the author of a Comment.
type Commenter struct {
	ID          string `json:"_id"`
	DisplayName string `json:"display_name"`
	Name        string `json:"name"`
}

// CommentsPage is one page of comments plus the cursor for the next page.
// An empty Next means the end of the VOD's chat has been reached.
type CommentsPage struct {
	Comments []Comment `json:"comments"`
	Next     string    `json:"_next"`
}

// CommentsClient fetches paginated chat history for VODs.
type CommentsClient struct {
	ClientID   string
	HTTPClient *http.Client
}

func (cc *CommentsClient) http() *http.Client {
	if cc.HTTPClient != nil {
		return cc.HTTPClient
	}
	return http.DefaultClient
}

// CommentsByOffset fetches the page of comments starting at an absolute
// playback offset in seconds.
func (cc *CommentsClient) CommentsByOffset(ctx context.Context, vodID string, offsetSeconds int) (*CommentsPage, error) {
	return cc.fetch(ctx, vodID, url.Values{"content_offset_seconds": []string{strconv.Itoa(offsetSeconds)}})
}

// CommentsByCursor fetches the page of comments identified by a pagination
// cursor from a previous page.
func (cc *CommentsClient) CommentsByCursor(ctx context.Context, vodID, cursor string) (*CommentsPage, error) {
	return cc.fetch(ctx, vodID, url.Values{"cursor": []string{cursor}})
}

func (cc *CommentsClient) fetch(ctx context.Context, vodID string, query url.Values) (*CommentsPage, error) {
	if vodID == "" {
		return nil, fmt.Errorf("vodID empty")
	}
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s/comments", commentsBase, vodID), nil)
	req.URL.RawQuery = query.Encode()
	req.Header.Set("Client-ID", cc.ClientID)
	req.Header.Set("Accept", "application/vnd.twitchtv.v5+json")
	resp, err := cc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode}
	}
	var page CommentsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode comments page: %w", err)
	}
	return &page, nil
}

// VODSource binds a CommentsClient to one VOD id.
type VODSource struct {
	Client *CommentsClient
	VODID  string
}

// ByOffset fetches the page anchored at an absolute offset for the bound VOD.
func (s *VODSource) ByOffset(ctx context.Context, offsetSeconds int) (*CommentsPage, error) {
	return s.Client.CommentsByOffset(ctx, s.VODID, offsetSeconds)
}

// ByCursor fetches a cursor-continuation page for the bound VOD.
func (s *VODSource) ByCursor(ctx context.Context, cursor string) (*CommentsPage, error) {
	return s.Client.CommentsByCursor(ctx, s.VODID, cursor)
}
