package typing

import (
	"fmt"
	"html"
	"strings"
)

type SegmentKind int

const (
	TextSegment SegmentKind = iota
	CaretSegment
	HighlightSegment
)

var segmentKindNames = map[SegmentKind]string{
	TextSegment:      "text",
	CaretSegment:     "caret",
	HighlightSegment: "highlight",
}

func (k SegmentKind) String() string {
	if name, ok := segmentKindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k SegmentKind) MarshalText() ([]byte, error) {
	if name, ok := segmentKindNames[k]; ok {
		return []byte(name), nil
	}
	return nil, fmt.Errorf("typing: unknown segment kind %d", int(k))
}

func (k *SegmentKind) UnmarshalText(b []byte) error {
	for kind, name := range segmentKindNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("typing: unknown segment kind %q", b)
}

// Segment is one run of a rendered frame. Text is literal and unescaped.
type Segment struct {
	Kind SegmentKind `json:"kind"`
	Text string      `json:"text"`
}

// Style parametrizes how a frame is drawn. It never changes the segments.
type Style struct {
	FontFamily string `json:"fontFamily"`
	FontSize   int    `json:"fontSize"`
	Direction  string `json:"direction"`
}

func DefaultStyle() Style {
	return Style{FontFamily: "'Courier New', monospace", FontSize: 20, Direction: "ltr"}
}

// Frame is a fully rendered remote typing state: at most one caret marker
// or one highlighted run between literal text.
type Frame struct {
	Idle     bool      `json:"idle"`
	Segments []Segment `json:"segments"`
	Style    Style     `json:"style"`
}

const (
	caretMarkup    = `<span class="live-cursor"></span>`
	highlightOpen  = `<span class="live-selection">`
	highlightClose = `</span>`
)

// HTML renders the frame with every literal escaped.
func (f Frame) HTML() string {
	var b strings.Builder
	for _, seg := range f.Segments {
		switch seg.Kind {
		case TextSegment:
			b.WriteString(html.EscapeString(seg.Text))
		case CaretSegment:
			b.WriteString(caretMarkup)
		case HighlightSegment:
			b.WriteString(highlightOpen)
			b.WriteString(html.EscapeString(seg.Text))
			b.WriteString(highlightClose)
		}
	}
	return b.String()
}

// Text concatenates the literal content of every segment.
func (f Frame) Text() string {
	var b strings.Builder
	for _, seg := range f.Segments {
		b.WriteString(seg.Text)
	}
	return b.String()
}

func (f Frame) Count(kind SegmentKind) int {
	n := 0
	for _, seg := range f.Segments {
		if seg.Kind == kind {
			n++
		}
	}
	return n
}

// Render maps a snapshot onto a frame. Idle snapshots render as empty
// content with the caret at 0.
func Render(s Snapshot) Frame {
	state, _ := s.State()
	if s.Idle() {
		state = TypingState{}
	}
	f := renderState(state.Clamp())
	f.Idle = s.Idle()
	return f
}

func renderState(s TypingState) Frame {
	if s.HasSelection() {
		lo, hi := s.Bounds()
		before, rest := SplitAt(s.Text, lo)
		selected := Slice(s.Text, lo, hi)
		after := rest[len(selected):]
		return Frame{Segments: []Segment{
			{Kind: TextSegment, Text: before},
			{Kind: HighlightSegment, Text: selected},
			{Kind: TextSegment, Text: after},
		}}
	}
	before, after := SplitAt(s.Text, s.CursorPosition)
	return Frame{Segments: []Segment{
		{Kind: TextSegment, Text: before},
		{Kind: CaretSegment},
		{Kind: TextSegment, Text: after},
	}}
}
