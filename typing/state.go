// Package typing mirrors one participant's in-progress text to the other:
// local input is rate-limited into a shared record and the peer's record is
// rendered as text with a caret or highlighted selection.
package typing

import "time"

// TypingState is one participant's in-progress input. Offsets count UTF-16
// code units, the unit browser text inputs report.
type TypingState struct {
	IsTyping       bool   `json:"isTyping"`
	Text           string `json:"text"`
	CursorPosition int    `json:"cursorPosition"`
	SelectionStart int    `json:"selectionStart"`
	SelectionEnd   int    `json:"selectionEnd"`
	Timestamp      int64  `json:"timestamp"`
}

// Clamp forces every offset into [0, Length(Text)].
func (s TypingState) Clamp() TypingState {
	n := Length(s.Text)
	s.CursorPosition = clamp(s.CursorPosition, n)
	s.SelectionStart = clamp(s.SelectionStart, n)
	s.SelectionEnd = clamp(s.SelectionEnd, n)
	return s
}

// Bounds returns the selection ordered low to high.
func (s TypingState) Bounds() (lo, hi int) {
	lo, hi = s.SelectionStart, s.SelectionEnd
	if lo > hi {
		lo, hi = hi, lo
	}
	return lo, hi
}

func (s TypingState) HasSelection() bool {
	return s.SelectionStart != s.SelectionEnd
}

func (s TypingState) Time() time.Time {
	return time.UnixMilli(s.Timestamp)
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v > n {
		return n
	}
	return v
}

// Snapshot is what a subscriber observes for a key: either a record or
// nothing at all.
type Snapshot struct {
	state   TypingState
	present bool
}

func Present(s TypingState) Snapshot {
	return Snapshot{state: s, present: true}
}

func Absent() Snapshot {
	return Snapshot{}
}

func (s Snapshot) State() (TypingState, bool) {
	return s.state, s.present
}

func (s Snapshot) IsPresent() bool {
	return s.present
}

// Idle reports whether the snapshot should render as "not typing". Both a
// missing record and an explicit isTyping=false count.
func (s Snapshot) Idle() bool {
	return !s.present || !s.state.IsTyping
}

// Record is the wire form of a TypingState. Fields are optional because
// other writers may leave some out.
type Record struct {
	IsTyping       *bool   `json:"isTyping,omitempty"`
	Text           *string `json:"text,omitempty"`
	CursorPosition *int    `json:"cursorPosition,omitempty"`
	SelectionStart *int    `json:"selectionStart,omitempty"`
	SelectionEnd   *int    `json:"selectionEnd,omitempty"`
	Timestamp      *int64  `json:"timestamp,omitempty"`
}

// Normalize fills missing fields: the cursor defaults to the end of the
// text and the selection collapses onto the cursor.
func (r Record) Normalize() TypingState {
	var s TypingState
	if r.Text != nil {
		s.Text = *r.Text
	}
	if r.IsTyping != nil {
		s.IsTyping = *r.IsTyping
	} else {
		s.IsTyping = s.Text != ""
	}
	if r.CursorPosition != nil {
		s.CursorPosition = *r.CursorPosition
	} else {
		s.CursorPosition = Length(s.Text)
	}
	if r.SelectionStart != nil {
		s.SelectionStart = *r.SelectionStart
	} else {
		s.SelectionStart = s.CursorPosition
	}
	if r.SelectionEnd != nil {
		s.SelectionEnd = *r.SelectionEnd
	} else {
		s.SelectionEnd = s.CursorPosition
	}
	if r.Timestamp != nil {
		s.Timestamp = *r.Timestamp
	}
	return s.Clamp()
}

// RecordOf returns the fully populated wire form of s.
func RecordOf(s TypingState) Record {
	return Record{
		IsTyping:       &s.IsTyping,
		Text:           &s.Text,
		CursorPosition: &s.CursorPosition,
		SelectionStart: &s.SelectionStart,
		SelectionEnd:   &s.SelectionEnd,
		Timestamp:      &s.Timestamp,
	}
}
