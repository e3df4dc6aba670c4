package twitchapi

import "testing"

func TestVODID(t *testing.T) {
	tests := []struct {
		url string
		id  string
		ok  bool
	}{
		{"https://www.twitch.tv/videos/123456789", "123456789", true},
		{"https://twitch.tv/videos/123456789", "123456789", true},
		{"http://twitch.tv/videos/1/", "1", true},
		{"https://www.twitch.tv/videos/abc", "", false},
		{"https://www.twitch.tv/somechannel", "", false},
		{"https://example.com/videos/123", "", false},
		{"/home/user/video.mkv", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		id, ok := VODID(tt.url)
		if id != tt.id || ok != tt.ok {
			t.Errorf("VODID(%q) = (%q, %v), want (%q, %v)", tt.url, id, ok, tt.id, tt.ok)
		}
	}
}

func TestChannelLogin(t *testing.T) {
	tests := []struct {
		url   string
		login string
		ok    bool
	}{
		{"https://www.twitch.tv/somechannel", "somechannel", true},
		{"https://twitch.tv/Some_Channel/", "Some_Channel", true},
		{"https://www.twitch.tv/videos/123456789", "", false},
		{"https://www.twitch.tv/videos", "", false},
		{"https://www.twitch.tv/directory", "", false},
		{"https://www.twitch.tv/settings", "", false},
		{"https://example.com/somechannel", "", false},
		{"/home/user/video.mkv", "", false},
	}
	for _, tt := range tests {
		login, ok := ChannelLogin(tt.url)
		if login != tt.login || ok != tt.ok {
			t.Errorf("ChannelLogin(%q) = (%q, %v), want (%q, %v)", tt.url, login, ok, tt.login, tt.ok)
		}
	}
}
