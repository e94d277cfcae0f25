package main

import (
	"github.com/ssau-fiit/livetype-api/typing"
)

// Inbound operation types.
const (
	opContent    = "content"
	opCaret      = "caret"
	opSelection  = "selection"
	opClear      = "clear"
	opSend       = "send"
	opPrefs      = "prefs"
	opToggleFont = "toggle_font"
	opResize     = "resize"
)

// Outbound event types.
const (
	evTyping    = "typing"
	evScroll    = "scroll"
	evMessages  = "messages"
	evRestore   = "restore"
	evPrefs     = "prefs"
	evPeerPrefs = "peer_prefs"
	evError     = "error"
)

// Operation is one message from the browser. Offsets are UTF-16 code units
// as reported by the text input.
type Operation struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	SelectionStart int    `json:"selectionStart"`
	SelectionEnd   int    `json:"selectionEnd"`
	Font           string `json:"font,omitempty"`
	FontSize       int    `json:"fontSize,omitempty"`
	Steps          int    `json:"steps,omitempty"`
}

// Input converts an input operation into an aggregator event. It reports
// false for every other operation type.
func (op Operation) Input() (typing.Input, bool) {
	switch op.Type {
	case opContent:
		return typing.Content(op.Text, op.SelectionStart, op.SelectionEnd), true
	case opCaret:
		return typing.Caret(op.Text, op.SelectionStart), true
	case opSelection:
		return typing.Selection(op.Text, op.SelectionStart, op.SelectionEnd), true
	case opClear:
		return typing.Content("", 0, 0), true
	}
	return typing.Input{}, false
}

type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

type RestorePayload struct {
	Text string `json:"text"`
}

type ErrorPayload struct {
	Op    string `json:"op,omitempty"`
	Error string `json:"error"`
}
