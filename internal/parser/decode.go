package parser

import (
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/rumor-ml/commons.systems/tally/internal/domain"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// Decode converts statement bytes to UTF-8 text. A UTF-8 or UTF-16 byte order
// mark selects the encoding and is stripped; otherwise valid UTF-8 is used as
// is and anything else is read as Windows-1252, the encoding most bank
// exports fall back to.
func Decode(data []byte) (string, error) {
	if hasBOM(data) {
		decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
		out, _, err := transform.Bytes(decoder, data)
		if err != nil {
			return "", fmt.Errorf("%w: failed to decode text: %v", domain.ErrSourceUnreadable, err)
		}
		return string(out), nil
	}

	if utf8.Valid(data) {
		return string(data), nil
	}

	out, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to decode text: %v", domain.ErrSourceUnreadable, err)
	}
	return string(out), nil
}

// DecodeReader reads r fully and decodes it with Decode.
func DecodeReader(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read source: %v", domain.ErrSourceUnreadable, err)
	}
	return Decode(data)
}

func hasBOM(data []byte) bool {
	return bytes.HasPrefix(data, bomUTF8) ||
		bytes.HasPrefix(data, bomUTF16LE) ||
		bytes.HasPrefix(data, bomUTF16BE)
}
