package settlement

import (
	"errors"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// ErrUndecodable indicates the upload could not be read with any of the
// supported encodings.
var ErrUndecodable = errors.New("content not decodable with any supported encoding")

// codePages are the single-byte fallbacks tried, in order, when the content
// is not valid UTF-8. ISO-8859-1 accepts every byte value, so the first
// fallback already guarantees a decode.
var codePages = []struct {
	name string
	cm   *charmap.Charmap
}{
	{"latin-1", charmap.ISO8859_1},
	{"cp1252", charmap.Windows1252},
	{"iso-8859-1", charmap.ISO8859_1},
}

// DecodeContent converts raw upload bytes to text, reporting which encoding
// was used.
func DecodeContent(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}
	for _, cp := range codePages {
		decoded, err := cp.cm.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		return string(decoded), cp.name, nil
	}
	return "", "", ErrUndecodable
}
