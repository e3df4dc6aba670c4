package twitchapi

import "regexp"

var (
	vodURLPattern     = regexp.MustCompile(`^https?://(www\.)?twitch\.tv/videos/(?P<id>\d+)/?$`)
	channelURLPattern = regexp.MustCompile(`^https?://(www\.)?twitch\.tv/(?P<login>[A-Za-z0-9_]+)/?$`)
)

// VODID extracts the VOD id from a twitch.tv VOD URL. The second return is
// false when the URL is not a VOD URL.
func VODID(rawURL string) (string, bool) {
	m := vodURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	return m[vodURLPattern.SubexpIndex("id")], true
}

// ChannelLogin extracts the channel login from a twitch.tv channel URL. VOD
// URLs and non-twitch URLs return false.
func ChannelLogin(rawURL string) (string, bool) {
	if _, ok := VODID(rawURL); ok {
		return "", false
	}
	m := channelURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", false
	}
	login := m[channelURLPattern.SubexpIndex("login")]
	switch login {
	case "videos", "directory", "settings":
		// Site sections, not channels.
		return "", false
	}
	return login, true
}
