/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package logfmt

import "github.com/muesli/termenv"

// Color is the color type accepted by StyleConfig. It is satisfied by
// termenv's ANSI, ANSI256 and RGB color types, so callers can supply
// whichever precision their terminal profile supports.
type Color = termenv.Color

// ANSI 3/4-bit palette, named to match the StyleConfig field names that
// reference them in defaultStyle.
const (
	ANSIBlack   = termenv.ANSIBlack
	ANSIRed     = termenv.ANSIRed
	ANSIGreen   = termenv.ANSIGreen
	ANSIYellow  = termenv.ANSIYellow
	ANSIBlue    = termenv.ANSIBlue
	ANSIMagenta = termenv.ANSIMagenta
	ANSICyan    = termenv.ANSICyan
	ANSIWhite   = termenv.ANSIWhite

	ANSIBrightBlack   = termenv.ANSIBrightBlack
	ANSIBrightRed     = termenv.ANSIBrightRed
	ANSIBrightGreen   = termenv.ANSIBrightGreen
	ANSIBrightYellow  = termenv.ANSIBrightYellow
	ANSIBrightBlue    = termenv.ANSIBrightBlue
	ANSIBrightMagenta = termenv.ANSIBrightMagenta
	ANSIBrightCyan    = termenv.ANSIBrightCyan
	ANSIBrightWhite   = termenv.ANSIBrightWhite
)
