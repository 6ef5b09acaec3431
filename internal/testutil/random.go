package testutil

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

// RandomEmail returns a unique address in the example.com domain.
func RandomEmail(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8] + "@example.com"
}

// RandomCode returns a unique template code.
func RandomCode(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}

func randomDigits(n int) string {
	var b strings.Builder
	b.WriteByte(byte('1' + rand.IntN(9)))
	for i := 1; i < n; i++ {
		b.WriteByte(byte('0' + rand.IntN(10)))
	}
	return b.String()
}
