package router

import (
	"encoding/base64"
	"strconv"
	"strings"

	"github.com/athenamind/athena/internal/envelope"
)

// EncodeCursor produces an opaque, stable next_cursor: a plain offset,
// base64-encoded so it reads as opaque to callers and stays valid across
// process restarts (it encodes no in-memory state, only a position into
// the deterministically ordered result).
func EncodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte("o:" + strconv.Itoa(offset)))
}

// DecodeCursor parses a cursor produced by EncodeCursor. An empty cursor
// decodes to offset 0 (first page).
func DecodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, envelope.New(envelope.KindInvalidInput, "malformed cursor")
	}
	s := string(raw)
	if !strings.HasPrefix(s, "o:") {
		return 0, envelope.New(envelope.KindInvalidInput, "malformed cursor")
	}
	offset, err := strconv.Atoi(strings.TrimPrefix(s, "o:"))
	if err != nil || offset < 0 {
		return 0, envelope.New(envelope.KindInvalidInput, "malformed cursor")
	}
	return offset, nil
}
