package store

import (
	"time"

	"github.com/google/uuid"

	"github.com/roach88/lix/internal/ir"
)

// TimestampLayout is the format of every created_at and updated_at value.
// Fixed width keeps lexical order equal to chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

func withDefaults(f Functions) Functions {
	if f.UUIDv7 == nil {
		f.UUIDv7 = func() string { return uuid.Must(uuid.NewV7()).String() }
	}
	if f.Timestamp == nil {
		f.Timestamp = func() string { return time.Now().UTC().Format(TimestampLayout) }
	}
	if f.ValidateSnapshot == nil {
		f.ValidateSnapshot = canonicalSnapshot
	}
	return f
}

// canonicalSnapshot accepts any well-formed JSON document.
func canonicalSnapshot(_ string, snapshot string) (string, error) {
	out, err := ir.CanonicalizeJSON([]byte(snapshot))
	if err != nil {
		return "", err
	}
	return string(out), nil
}
