package report

import (
	"bytes"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// cleanInput strips a leading UTF-8 BOM (Excel adds one on Windows) and
// replaces invalid UTF-8 bytes with U+FFFD so the csv reader and the
// rendered report never see broken sequences.
func cleanInput(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	return sanitizeUTF8(data)
}

func sanitizeUTF8(data []byte) []byte {
	if utf8.Valid(data) {
		return data
	}

	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune(utf8.RuneError)
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}

	return buf.Bytes()
}
