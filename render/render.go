// Package render formats chat messages for the terminal: badge glyphs,
// playback timestamps, and author colors shifted for the configured terminal
// background.
package render

import (
	"fmt"
	"strings"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/termenv"

	"github.com/onnwee/vodchat/config"
)

// asciiBadges maps raw badge ids to plain symbols that work in any terminal.
var asciiBadges = map[string]string{
	"staff":       "~",
	"admin":       "&",
	"broadcaster": "@",
	"moderator":   "%",
	"subscriber":  "+",
}

// nerdFontBadges extends the table with icon glyphs for terminals using a
// patched font.
var nerdFontBadges = map[string]string{
	"staff":       "",
	"admin":       "",
	"broadcaster": "",
	"moderator":   "",
	"subscriber":  "",
	"verified":    "",
	"vip":         "",
	"turbo":       "",
	"prime":       "",
}

// Renderer turns message fields into terminal output. The color shift mode is
// resolved once at construction, not per message.
type Renderer struct {
	profile termenv.Profile
	shift   func(colorful.Color) colorful.Color
	badges  map[string]string
}

// New builds a Renderer for the given background mode. With nerdFonts set the
// badge table uses icon glyphs instead of ascii symbols.
func New(background config.Background, nerdFonts bool) *Renderer {
	r := &Renderer{
		profile: termenv.ColorProfile(),
		badges:  asciiBadges,
	}
	if nerdFonts {
		r.badges = nerdFontBadges
	}
	switch background {
	case config.BackgroundLight:
		r.shift = shiftLight
	case config.BackgroundDark:
		r.shift = shiftDark
	default:
		r.shift = func(c colorful.Color) colorful.Color { return c }
	}
	return r
}

// shiftLight darkens a color so light names stay readable on light backgrounds.
func shiftLight(c colorful.Color) colorful.Color {
	return colorful.Color{R: c.R * 0.75, G: c.G * 0.75, B: c.B * 0.75}
}

// shiftDark compresses toward a lighter band for dark backgrounds.
func shiftDark(c colorful.Color) colorful.Color {
	const lift = 63.0 / 255.0
	return colorful.Color{R: c.R*0.75 + lift, G: c.G*0.75 + lift, B: c.B*0.75 + lift}
}

// ShiftHex applies the configured background shift to a "#rrggbb" color.
// Unparseable or empty input returns "".
func (r *Renderer) ShiftHex(hex string) string {
	if hex == "" {
		return ""
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return ""
	}
	return r.shift(c).Clamped().Hex()
}

// Badges maps raw badge ids to display glyphs, dropping unknown ids.
func (r *Renderer) Badges(ids []string) []string {
	var out []string
	for _, id := range ids {
		if glyph, ok := r.badges[id]; ok {
			out = append(out, glyph)
		}
	}
	return out
}

// MessageLine formats one chat message: "H:MM:SS <badges+author> body".
// A non-empty colorHex colors the author name.
func (r *Renderer) MessageLine(timestamp float64, badges []string, author, colorHex, body string) string {
	name := author
	if colorHex != "" {
		name = termenv.String(author).Foreground(r.profile.Color(colorHex)).String()
	}
	return fmt.Sprintf("%s <%s%s> %s", FormatTimestamp(timestamp), strings.Join(badges, ""), name, body)
}

// FormatTimestamp converts a time in seconds to H:MM:SS.
func FormatTimestamp(seconds float64) string {
	s := int(seconds)
	return fmt.Sprintf("%d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// FormatTimestampMS converts a time in seconds to H:MM:SS.mmm.
func FormatTimestampMS(seconds float64) string {
	ms := int(seconds*1000) % 1000
	return fmt.Sprintf("%s.%03d", FormatTimestamp(seconds), ms)
}
