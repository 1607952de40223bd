package detect

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Encoding represents character encoding.
type Encoding uint8

const (
	EncodingUnknown Encoding = iota
	EncodingUTF8
	EncodingUTF8BOM
	EncodingUTF16LE
	EncodingUTF16BE
	EncodingLatin1
	EncodingASCII
)

func (e Encoding) String() string {
	names := []string{"unknown", "utf-8", "utf-8-bom", "utf-16le", "utf-16be", "latin1", "ascii"}
	if int(e) < len(names) {
		return names[e]
	}
	return "unknown"
}

// detectEncoding identifies character encoding.
func detectEncoding(sample []byte) Encoding {
	if len(sample) == 0 {
		return EncodingUnknown
	}

	// Check BOM
	if len(sample) >= 3 && sample[0] == 0xEF && sample[1] == 0xBB && sample[2] == 0xBF {
		return EncodingUTF8BOM
	}
	if len(sample) >= 2 {
		if sample[0] == 0xFF && sample[1] == 0xFE {
			return EncodingUTF16LE
		}
		if sample[0] == 0xFE && sample[1] == 0xFF {
			return EncodingUTF16BE
		}
	}

	if utf8.Valid(sample) {
		for _, b := range sample {
			if b > 127 {
				return EncodingUTF8
			}
		}
		return EncodingASCII
	}

	// A sample cut mid-rune is still UTF-8.
	if len(sample) > 3 && utf8.Valid(sample[:len(sample)-3]) {
		return EncodingUTF8
	}

	return EncodingLatin1
}

// ToUTF8 returns text content as UTF-8 without a byte order mark.
// Instrument software on Windows commonly writes UTF-16 exports.
func ToUTF8(data []byte) ([]byte, error) {
	var dec *encoding.Decoder
	switch detectEncoding(data) {
	case EncodingUTF8BOM:
		return data[3:], nil
	case EncodingUTF16LE:
		dec = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case EncodingUTF16BE:
		dec = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	case EncodingLatin1:
		dec = charmap.ISO8859_1.NewDecoder()
	default:
		return data, nil
	}

	out, err := dec.Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("transcode text: %w", err)
	}
	return bytes.TrimPrefix(out, []byte("\ufeff")), nil
}
