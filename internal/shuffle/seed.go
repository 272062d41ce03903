package shuffle

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
)

const (
	suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffixLength   = 6
)

// GenerateSeed builds a seed for a new session in the form
// "{unixMillis}-{suffix}" or "{unixMillis}-{suffix}-{userID}".
func GenerateSeed(userID string) string {
	return generateSeedAt(time.Now(), userID)
}

func generateSeedAt(now time.Time, userID string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	b.WriteByte('-')
	b.WriteString(randomSuffix(suffixLength))
	if userID = strings.TrimSpace(userID); userID != "" {
		b.WriteByte('-')
		b.WriteString(userID)
	}
	return b.String()
}

// IsValidSeed reports whether seed can be used to reproduce an order.
func IsValidSeed(seed string) bool {
	return seed != ""
}

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails on a broken system source; fall back to the clock.
		ns := time.Now().UnixNano()
		for i := range buf {
			buf[i] = byte(ns >> (8 * (i % 8)))
		}
	}
	for i := range buf {
		buf[i] = suffixAlphabet[int(buf[i])%len(suffixAlphabet)]
	}
	return string(buf)
}
