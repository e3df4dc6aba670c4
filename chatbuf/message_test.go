package chatbuf

import (
	"testing"

	"github.com/onnwee/vodchat/twitchapi"
)

func TestAuthorInterning(t *testing.T) {
	reg := newAuthorRegistry()
	rend := testRenderer()

	c1 := comment("m1", 1)
	c2 := comment("m2", 2)
	c2.Commenter = c1.Commenter

	m1 := newMessage(c1, reg, rend)
	m2 := newMessage(c2, reg, rend)

	if m1.Author != m2.Author {
		t.Fatal("same commenter produced distinct Author instances")
	}
	if reg.size() != 1 {
		t.Fatalf("registry size = %d, want 1", reg.size())
	}

	// The entry survives until the last referencing message releases it.
	reg.release(m1.Author)
	if reg.size() != 1 {
		t.Fatalf("registry size after first release = %d, want 1", reg.size())
	}
	reg.release(m2.Author)
	if reg.size() != 0 {
		t.Fatalf("registry size after last release = %d, want 0", reg.size())
	}
}

func TestAuthorNameFallback(t *testing.T) {
	reg := newAuthorRegistry()
	rend := testRenderer()

	tests := []struct {
		name      string
		commenter twitchapi.Commenter
		want      string
	}{
		{"display name preferred", twitchapi.Commenter{ID: "1", DisplayName: "Alice", Name: "alice"}, "Alice"},
		{"login fallback", twitchapi.Commenter{ID: "2", Name: "bob"}, "bob"},
		{"unknown fallback", twitchapi.Commenter{ID: "3"}, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := comment("m", 0)
			c.Commenter = tt.commenter
			m := newMessage(c, reg, rend)
			if m.Author.Name != tt.want {
				t.Fatalf("author name = %q, want %q", m.Author.Name, tt.want)
			}
		})
	}
}

func TestMessageCarriesRenderedBadgesAndColor(t *testing.T) {
	reg := newAuthorRegistry()
	rend := testRenderer()

	c := comment("m1", 42.5)
	c.Message.UserBadges = []twitchapi.UserBadge{{ID: "moderator", Version: "1"}}
	c.Message.UserColor = "#FF0000"

	m := newMessage(c, reg, rend)
	if m.Timestamp != 42.5 {
		t.Fatalf("timestamp = %v, want 42.5", m.Timestamp)
	}
	if len(m.Badges) != 1 || m.Badges[0] != "%" {
		t.Fatalf("badges = %v, want [%%]", m.Badges)
	}
	if m.Color == "" {
		t.Fatal("color not resolved")
	}
}
