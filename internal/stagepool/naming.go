package stagepool

import (
	"crypto/rand"
	"fmt"
)

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomSuffix returns n random alphanumeric characters.
func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand on a supported platform does not fail; fall back to a
		// fixed suffix rather than panic, so naming stays deterministic-ish.
		for i := range buf {
			buf[i] = alphanumeric[0]
		}
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphanumeric[int(b)%len(alphanumeric)]
	}
	return string(out)
}

func stageName(prefix string, unixMillis int64) string {
	return fmt.Sprintf("%s-%d-%s", prefix, unixMillis, randomSuffix(6))
}
