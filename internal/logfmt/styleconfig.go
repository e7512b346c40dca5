/*
	Copyright (c) 2023, btnmasher
	All rights reserved.
	Use of this source code is governed by a BSD-style
	license that can be found in the LICENSE file.
*/

package logfmt

// StyleConfig holds the set of styles applied to each rendered field of a
// log entry. Each entry is a TextStyle built up from a Color and zero or
// more attribute modifiers (Bold, Underline, etc).
type StyleConfig struct {
	TimestampStyle TextStyle
	LevelStyles    map[string]TextStyle
	MessageStyle   TextStyle
	FieldKeyStyle  TextStyle
	FieldValStyle  TextStyle
	CallerStyle    TextStyle
}

// defaultStyle is the fallback palette used when NewStyle isn't given an
// option that overrides a given field.
func defaultStyle() StyleConfig {
	return StyleConfig{
		TimestampStyle: TextStyle{}.foreground(ANSIBrightBlack),
		LevelStyles: map[string]TextStyle{
			"trace": TextStyle{}.foreground(ANSIBrightBlack),
			"debug": TextStyle{}.foreground(ANSICyan),
			"info":  TextStyle{}.foreground(ANSIGreen),
			"warn":  TextStyle{}.foreground(ANSIYellow),
			"error": TextStyle{}.foreground(ANSIRed),
			"fatal": TextStyle{}.foreground(ANSIBrightWhite).background(ANSIRed),
			"panic": TextStyle{}.foreground(ANSIBrightWhite).background(ANSIMagenta),
		},
		MessageStyle:  TextStyle{},
		FieldKeyStyle: TextStyle{}.foreground(ANSIBlue),
		FieldValStyle: TextStyle{}.foreground(ANSIBrightWhite),
		CallerStyle:   TextStyle{}.foreground(ANSIBrightBlack).Italic(),
	}
}

// StyleOption mutates a StyleConfig. Each With* function below returns one.
type StyleOption func(*StyleConfig)

// NewStyle builds a StyleConfig starting from defaultStyle and applying opts
// in order, so later options win over earlier ones.
func NewStyle(opts ...StyleOption) StyleConfig {
	cfg := defaultStyle()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

func WithTimestampForeground(c Color) StyleOption {
	return func(cfg *StyleConfig) { cfg.TimestampStyle = cfg.TimestampStyle.foreground(c) }
}

func WithMessageForeground(c Color) StyleOption {
	return func(cfg *StyleConfig) { cfg.MessageStyle = cfg.MessageStyle.foreground(c) }
}

func WithFieldKeyForeground(c Color) StyleOption {
	return func(cfg *StyleConfig) { cfg.FieldKeyStyle = cfg.FieldKeyStyle.foreground(c) }
}

func WithFieldValueForeground(c Color) StyleOption {
	return func(cfg *StyleConfig) { cfg.FieldValStyle = cfg.FieldValStyle.foreground(c) }
}

func WithCallerForeground(c Color) StyleOption {
	return func(cfg *StyleConfig) { cfg.CallerStyle = cfg.CallerStyle.foreground(c) }
}

func WithLevelForeground(level string, c Color) StyleOption {
	return func(cfg *StyleConfig) {
		s := cfg.LevelStyles[level]
		cfg.LevelStyles[level] = s.foreground(c)
	}
}

func WithLevelBackground(level string, c Color) StyleOption {
	return func(cfg *StyleConfig) {
		s := cfg.LevelStyles[level]
		cfg.LevelStyles[level] = s.background(c)
	}
}

func WithLevelBold(level string) StyleOption {
	return func(cfg *StyleConfig) {
		s := cfg.LevelStyles[level]
		cfg.LevelStyles[level] = s.Bold()
	}
}

func WithTimestampBold() StyleOption {
	return func(cfg *StyleConfig) { cfg.TimestampStyle = cfg.TimestampStyle.Bold() }
}

func WithMessageBold() StyleOption {
	return func(cfg *StyleConfig) { cfg.MessageStyle = cfg.MessageStyle.Bold() }
}

func WithFieldKeyBold() StyleOption {
	return func(cfg *StyleConfig) { cfg.FieldKeyStyle = cfg.FieldKeyStyle.Bold() }
}

func WithFieldValueBold() StyleOption {
	return func(cfg *StyleConfig) { cfg.FieldValStyle = cfg.FieldValStyle.Bold() }
}

func WithCallerBold() StyleOption {
	return func(cfg *StyleConfig) { cfg.CallerStyle = cfg.CallerStyle.Bold() }
}

func WithTimestampItalic() StyleOption {
	return func(cfg *StyleConfig) { cfg.TimestampStyle = cfg.TimestampStyle.Italic() }
}

func WithMessageItalic() StyleOption {
	return func(cfg *StyleConfig) { cfg.MessageStyle = cfg.MessageStyle.Italic() }
}

func WithFieldKeyItalic() StyleOption {
	return func(cfg *StyleConfig) { cfg.FieldKeyStyle = cfg.FieldKeyStyle.Italic() }
}

func WithFieldValueItalic() StyleOption {
	return func(cfg *StyleConfig) { cfg.FieldValStyle = cfg.FieldValStyle.Italic() }
}

func WithCallerItalic() StyleOption {
	return func(cfg *StyleConfig) { cfg.CallerStyle = cfg.CallerStyle.Italic() }
}

func WithTimestampUnderline() StyleOption {
	return func(cfg *StyleConfig) { cfg.TimestampStyle = cfg.TimestampStyle.Underline() }
}

func WithMessageUnderline() StyleOption {
	return func(cfg *StyleConfig) { cfg.MessageStyle = cfg.MessageStyle.Underline() }
}

func WithFieldKeyUnderline() StyleOption {
	return func(cfg *StyleConfig) { cfg.FieldKeyStyle = cfg.FieldKeyStyle.Underline() }
}

func WithFieldValueUnderline() StyleOption {
	return func(cfg *StyleConfig) { cfg.FieldValStyle = cfg.FieldValStyle.Underline() }
}

func WithCallerUnderline() StyleOption {
	return func(cfg *StyleConfig) { cfg.CallerStyle = cfg.CallerStyle.Underline() }
}

func WithLevelStyle(level string, style TextStyle) StyleOption {
	return func(cfg *StyleConfig) { cfg.LevelStyles[level] = style }
}
