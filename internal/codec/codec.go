// Package codec converts page titles to file-safe names and back.
//
// Encoding rules, applied in order:
//  1. Reserved device names (CON, PRN, AUX, NUL, COM1-9, LPT1-9) and titles ending
//     in "." get a trailing "/" appended, which becomes the "___" suffix below.
//  2. "%" is escaped as %25 so literal escape sequences in a title survive.
//  3. Characters forbidden in file names (< > : " \ | ? *) are percent-encoded.
//  4. Any "_" adjacent to another "_" or to "/" is escaped as %5F.
//  5. "/" becomes "___".
//
// Step 4 keeps "___" reserved for "/", so decoding is unambiguous. Decoding
// reverses the steps and then drops one trailing "/". A title that itself ends
// in "/" therefore loses it: that case is lossy.
package codec

import "strings"

// SlashPlaceholder stands in for "/" in encoded names.
const SlashPlaceholder = "___"

// escapes maps forbidden characters to their encoded form.
var escapes = map[rune]string{
	'<':  "%3C",
	'>':  "%3E",
	':':  "%3A",
	'"':  "%22",
	'\\': "%5C",
	'|':  "%7C",
	'?':  "%3F",
	'*':  "%2A",
	'%':  "%25",
}

// unescapes is the inverse of escapes plus the lowbar escape.
var unescapes = map[string]rune{
	"%3C": '<',
	"%3E": '>',
	"%3A": ':',
	"%22": '"',
	"%5C": '\\',
	"%7C": '|',
	"%3F": '?',
	"%2A": '*',
	"%25": '%',
	"%5F": '_',
}

// reserved holds Windows device names that cannot be used as file bodies.
var reserved = func() map[string]bool {
	m := map[string]bool{"CON": true, "PRN": true, "AUX": true, "NUL": true}
	for _, p := range []string{"COM", "LPT"} {
		for i := '1'; i <= '9'; i++ {
			m[p+string(i)] = true
		}
	}
	return m
}()

// IsReserved reports whether title is a platform device name.
func IsReserved(title string) bool {
	return reserved[strings.ToUpper(title)]
}

// Encode converts a page title to a file-safe name (without extension).
func Encode(title string) string {
	if title == "" {
		return ""
	}
	if IsReserved(title) || strings.HasSuffix(title, ".") {
		title += "/"
	}

	runes := []rune(title)
	var b strings.Builder
	b.Grow(len(title) + 8)
	for i, r := range runes {
		switch {
		case r == '/':
			b.WriteString(SlashPlaceholder)
		case r == '_' && lowbarNeedsEscape(runes, i):
			b.WriteString("%5F")
		default:
			if esc, ok := escapes[r]; ok {
				b.WriteString(esc)
			} else {
				b.WriteRune(r)
			}
		}
	}
	return b.String()
}

// lowbarNeedsEscape reports whether the "_" at i touches another "_" or a "/".
func lowbarNeedsEscape(runes []rune, i int) bool {
	if i > 0 && (runes[i-1] == '_' || runes[i-1] == '/') {
		return true
	}
	if i+1 < len(runes) && (runes[i+1] == '_' || runes[i+1] == '/') {
		return true
	}
	return false
}

// Decode converts an encoded file name (without extension) back to a page title.
func Decode(name string) string {
	if name == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); {
		if strings.HasPrefix(name[i:], SlashPlaceholder) {
			b.WriteByte('/')
			i += len(SlashPlaceholder)
			continue
		}
		if name[i] == '%' && i+3 <= len(name) {
			if r, ok := unescapes[strings.ToUpper(name[i:i+3])]; ok {
				b.WriteRune(r)
				i += 3
				continue
			}
		}
		b.WriteByte(name[i])
		i++
	}

	return strings.TrimSuffix(b.String(), "/")
}
