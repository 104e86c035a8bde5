// Package util holds small helpers shared across packages.
package util

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewID returns a random id whose leading part is the current time in
// milliseconds, so ids minted later sort after earlier ones.
func NewID(prefix string) string {
	return newIDAt(prefix, time.Now())
}

func newIDAt(prefix string, at time.Time) string {
	random := make([]byte, 8)
	_, _ = rand.Read(random)
	id := fmt.Sprintf("%012x%s", at.UnixMilli(), hex.EncodeToString(random))
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
