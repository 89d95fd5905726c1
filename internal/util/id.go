package util

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// NowMillis returns the current wall-clock time in Unix milliseconds, the
// timestamp unit used by every synced record.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}
