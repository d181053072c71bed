package textclean

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Decode converts a downloaded body to a string. Valid UTF-8 is used as-is;
// anything else is decoded as Windows-1252.
func Decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	// Single-byte charmap decoders map every byte and never return an error.
	out, _ := charmap.Windows1252.NewDecoder().Bytes(b)
	return string(out)
}

// DecodeLatin1 decodes ISO-8859-1 bytes, the encoding of the legacy session
// files.
func DecodeLatin1(b []byte) string {
	out, _ := charmap.ISO8859_1.NewDecoder().Bytes(b)
	return string(out)
}
