// Package prefs holds each participant's display preferences. They only
// parametrize rendering; typing sync works without them.
package prefs

import (
	"context"
	"github.com/rs/zerolog/log"
	"github.com/ssau-fiit/livetype-api/typing"
)

const (
	FontMonospace = "monospace"
	FontNoto      = "noto"

	MinFontSize     = 14
	MaxFontSize     = 32
	DefaultFontSize = 20
	SizeStep        = 2
)

var fontFamilies = map[string]string{
	FontMonospace: "'Courier New', monospace",
	FontNoto:      "'Noto Nastaliq Urdu', serif",
}

type Preferences struct {
	Font      string `json:"font" mapstructure:"font"`
	FontSize  int    `json:"fontSize" mapstructure:"fontSize"`
	Timestamp int64  `json:"timestamp,omitempty" mapstructure:"timestamp"`
}

func Default() Preferences {
	return Preferences{Font: FontMonospace, FontSize: DefaultFontSize}
}

// Normalize replaces unknown fonts with monospace and clamps the size.
func (p Preferences) Normalize() Preferences {
	if _, ok := fontFamilies[p.Font]; !ok {
		p.Font = FontMonospace
	}
	if p.FontSize == 0 {
		p.FontSize = DefaultFontSize
	}
	p.FontSize = clampSize(p.FontSize)
	return p
}

func clampSize(size int) int {
	if size < MinFontSize {
		return MinFontSize
	}
	if size > MaxFontSize {
		return MaxFontSize
	}
	return size
}

func (p Preferences) ToggleFont() Preferences {
	if p.Font == FontNoto {
		p.Font = FontMonospace
	} else {
		p.Font = FontNoto
	}
	return p.Normalize()
}

// Resize moves the font size by steps of SizeStep within the allowed range.
func (p Preferences) Resize(steps int) Preferences {
	p = p.Normalize()
	p.FontSize = clampSize(p.FontSize + steps*SizeStep)
	return p
}

func (p Preferences) Family() string {
	if family, ok := fontFamilies[p.Font]; ok {
		return family
	}
	return fontFamilies[FontMonospace]
}

// Direction is "rtl" for the Nastaliq font and "ltr" otherwise.
func (p Preferences) Direction() string {
	if p.Font == FontNoto {
		return "rtl"
	}
	return "ltr"
}

func (p Preferences) Style() typing.Style {
	p = p.Normalize()
	return typing.Style{FontFamily: p.Family(), FontSize: p.FontSize, Direction: p.Direction()}
}

type Store interface {
	// Load returns the owner's preferences, or Default if none were saved.
	Load(ctx context.Context, owner string) (Preferences, error)
	Save(ctx context.Context, owner string, p Preferences) (Preferences, error)
	// Subscribe delivers the owner's current preferences and every change.
	Subscribe(owner string, onChange func(Preferences)) typing.Subscription
}

// LoadOrDefault never fails: load errors are logged and Default returned.
func LoadOrDefault(ctx context.Context, s Store, owner string) Preferences {
	p, err := s.Load(ctx, owner)
	if err != nil {
		log.Warn().Err(err).Str("owner", owner).Msg("could not load preferences")
		return Default()
	}
	return p
}
