package main

import (
	"github.com/ssau-fiit/livetype-api/feed"
	"github.com/ssau-fiit/livetype-api/prefs"
	"github.com/ssau-fiit/livetype-api/typing"
)

type MessageRequest struct {
	UserID string `json:"userId"`
	Text   string `json:"text"`
}

type PreferencesRequest struct {
	Font     string `json:"font"`
	FontSize int    `json:"fontSize"`
}

type FrameResponse struct {
	Frame typing.Frame `json:"frame"`
	HTML  string       `json:"html"`
}

func frameResponse(f typing.Frame) FrameResponse {
	return FrameResponse{Frame: f, HTML: f.HTML()}
}

type MessagesResponse struct {
	Messages []feed.Message `json:"messages"`
	// Foreign is the display text for the requesting user, set when the
	// request names one.
	Foreign string `json:"foreign,omitempty"`
}

type PreferencesResponse struct {
	prefs.Preferences
	Style typing.Style `json:"style"`
}

func preferencesResponse(p prefs.Preferences) PreferencesResponse {
	return PreferencesResponse{Preferences: p, Style: p.Style()}
}
