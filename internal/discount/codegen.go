package discount

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// codeCharset omits 0/O and 1/I so codes survive being read aloud
const codeCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	codePrefix       = "TUT"
	codeRandomLength = 9
)

// generateCode produces a fresh discount code string. Uniqueness is enforced
// by the database; callers retry on collision.
func generateCode() (string, error) {
	buf := make([]byte, codeRandomLength)
	max := big.NewInt(int64(len(codeCharset)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate discount code: %w", err)
		}
		buf[i] = codeCharset[n.Int64()]
	}
	return codePrefix + string(buf), nil
}
