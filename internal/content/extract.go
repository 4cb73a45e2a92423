// Package content turns raw mail messages into normalized plain text.
package content

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
)

// maxDepth bounds multipart nesting.
const maxDepth = 16

// Extract reads an RFC 5322 message and returns its textual content.
// text/plain parts are used verbatim, text/html parts are reduced with
// HTMLToText and multipart bodies are walked in order. Other content kinds
// contribute nothing; a message with no textual part yields "".
func Extract(r io.Reader) (string, error) {
	entity, err := message.Read(r)
	if err != nil && !tolerable(err) {
		return "", fmt.Errorf("reading message: %w", err)
	}
	return extractEntity(entity, 0)
}

// ExtractBytes is Extract over an in-memory message.
func ExtractBytes(raw []byte) (string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", nil
	}
	return Extract(bytes.NewReader(raw))
}

func extractEntity(e *message.Entity, depth int) (string, error) {
	if depth > maxDepth {
		return "", fmt.Errorf("multipart nesting deeper than %d", maxDepth)
	}

	if mr := e.MultipartReader(); mr != nil {
		var parts []string
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil && !tolerable(err) {
				return strings.Join(parts, "\n"), fmt.Errorf("reading part: %w", err)
			}
			if part == nil {
				continue
			}

			text, err := extractEntity(part, depth+1)
			if err != nil {
				return strings.Join(parts, "\n"), err
			}
			if text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "\n"), nil
	}

	mediaType, _, err := e.Header.ContentType()
	if err != nil {
		return "", nil
	}

	switch strings.ToLower(mediaType) {
	case "text/plain":
		body, err := io.ReadAll(e.Body)
		if err != nil {
			return "", fmt.Errorf("reading text/plain body: %w", err)
		}
		return string(body), nil
	case "text/html":
		body, err := io.ReadAll(e.Body)
		if err != nil {
			return "", fmt.Errorf("reading text/html body: %w", err)
		}
		return HTMLToText(string(body)), nil
	default:
		return "", nil
	}
}

// tolerable reports errors after which go-message still hands back a
// readable entity.
func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}
