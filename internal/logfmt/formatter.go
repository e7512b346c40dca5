/*
	Copyright (c) 2023, btnmasher
	All rights reserved.
	Use of this source code is governed by a BSD-style
	license that can be found in the LICENSE file.
*/

package logfmt

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

const defaultTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// Formatter is a logrus.Formatter that renders entries as a single
// human-readable line, colorizing the level, timestamp, message and fields
// according to a StyleConfig when the destination looks like a terminal.
type Formatter struct {
	Style TextStyle

	// NoColor forces plain-text rendering regardless of terminal detection.
	NoColor bool

	// TimestampFormat overrides defaultTimestampFormat when non-empty.
	TimestampFormat string

	// style is the resolved palette, set by NewFormatter.
	style StyleConfig
}

// NewFormatter builds a Formatter, auto-detecting whether the process is
// attached to a color-capable terminal via isatty.
func NewFormatter(opts ...StyleOption) *Formatter {
	return &Formatter{
		style:   NewStyle(opts...),
		NoColor: !isatty.IsTerminal(uintptr(1)),
	}
}

// Format implements logrus.Formatter.
func (f *Formatter) Format(entry *logrus.Entry) ([]byte, error) {
	buf := &bytes.Buffer{}
	if entry.Buffer != nil {
		buf = entry.Buffer
	}

	timestampFormat := f.TimestampFormat
	if timestampFormat == "" {
		timestampFormat = defaultTimestampFormat
	}

	levelText := strings.ToUpper(entry.Level.String())
	levelKey := strings.ToLower(entry.Level.String())

	f.writeStyled(buf, f.style.TimestampStyle, entry.Time.Format(timestampFormat))
	buf.WriteByte(' ')

	levelStyle, ok := f.style.LevelStyles[levelKey]
	if !ok {
		levelStyle = TextStyle{}
	}
	f.writeStyled(buf, levelStyle, fmt.Sprintf("%-5s", levelText))
	buf.WriteByte(' ')

	f.writeStyled(buf, f.style.MessageStyle, entry.Message)

	if entry.Caller != nil {
		buf.WriteByte(' ')
		f.writeStyled(buf, f.style.CallerStyle, fmt.Sprintf("(%s:%d)", entry.Caller.File, entry.Caller.Line))
	}

	fields := make([]string, 0, len(entry.Data))
	f.writeFields(buf, entry, &fields)

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// writeFields appends "key=value" pairs for every entry.Data key, sorted for
// deterministic output, into the caller-owned fields slice and writes them
// to buf. It must write into the slice the caller passed in rather than a
// freshly allocated one, or the rendered fields never reach the output.
func (f *Formatter) writeFields(buf *bytes.Buffer, entry *logrus.Entry, fields *[]string) {
	if len(entry.Data) == 0 {
		return
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		rendered := fmt.Sprintf("%s=%v", k, entry.Data[k])
		*fields = append(*fields, rendered)
	}

	for _, rendered := range *fields {
		buf.WriteByte(' ')
		eq := strings.IndexByte(rendered, '=')
		if eq < 0 {
			f.writeStyled(buf, f.style.FieldValStyle, rendered)
			continue
		}
		f.writeStyled(buf, f.style.FieldKeyStyle, rendered[:eq])
		buf.WriteByte('=')
		f.writeStyled(buf, f.style.FieldValStyle, rendered[eq+1:])
	}
}

func (f *Formatter) writeStyled(buf *bytes.Buffer, style TextStyle, text string) {
	if f.NoColor {
		buf.WriteString(text)
		return
	}
	style.WriteStyled(buf, text)
}
