// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package decoder reverses MIME transfer encodings for a single message
// part. Mail in the wild is frequently malformed, so decoding is
// best-effort and never returns an error: whatever bytes could be
// recovered are returned, falling back to the input unchanged.
package decoder

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime/quotedprintable"
	"strings"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

func init() {
	// The go-message charset registry covers the common cases; mail from
	// older Windows clients still shows up with these aliases.
	ascii := unicode.UTF8
	charset.RegisterEncoding("ascii", ascii)
	charset.RegisterEncoding("us-ascii", ascii)

	charset.RegisterEncoding("windows-1252", charmap.Windows1252)
	charset.RegisterEncoding("cp1252", charmap.Windows1252)

	charset.RegisterEncoding("iso-8859-1", charmap.ISO8859_1)
	charset.RegisterEncoding("latin1", charmap.ISO8859_1)
}

// Decode reverses the given MIME transfer encoding. Supported encodings
// are "base64" and "quoted-printable" (case-insensitive); anything else
// passes through unchanged.
func Decode(b []byte, encoding string) []byte {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return decodeBase64(b)
	case "quoted-printable":
		out, err := io.ReadAll(quotedprintable.NewReader(bytes.NewReader(b)))
		if err != nil && len(out) == 0 {
			return b
		}
		// A decode error mid-stream still yields the prefix that was valid.
		return out
	default:
		return b
	}
}

// DecodeText reverses the transfer encoding and converts the result from
// the declared charset to UTF-8. An unknown or missing charset leaves the
// bytes as-is.
func DecodeText(b []byte, encoding, cs string) string {
	raw := Decode(b, encoding)

	cs = strings.ToLower(strings.TrimSpace(cs))
	if cs == "" || cs == "utf-8" {
		return string(raw)
	}

	r, err := charset.Reader(cs, bytes.NewReader(raw))
	if err != nil {
		return string(raw)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func decodeBase64(b []byte) []byte {
	// Strip line breaks and padding-adjacent whitespace first; encoded
	// parts arrive wrapped at 76 columns.
	cleaned := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case '\r', '\n', ' ', '\t':
		default:
			cleaned = append(cleaned, c)
		}
	}

	out := make([]byte, base64.StdEncoding.DecodedLen(len(cleaned)))
	n, err := base64.StdEncoding.Decode(out, cleaned)
	if err != nil && n == 0 {
		// Some encoders omit padding.
		if out2, err2 := base64.RawStdEncoding.DecodeString(string(cleaned)); err2 == nil {
			return out2
		}
		return b
	}
	return out[:n]
}
