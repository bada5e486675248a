package utils

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var codeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

func NewID() string {
	return uuid.NewString()
}

// GenerateTicketCode returns nBytes of crypto/rand entropy in unpadded base32.
// 20 bytes give 160 bits and a 32 character code.
func GenerateTicketCode(nBytes int) (string, error) {
	if nBytes < 16 {
		return "", fmt.Errorf("ticket code needs at least 16 bytes of entropy, got %d", nBytes)
	}
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return codeEncoding.EncodeToString(buf), nil
}

// GenerateReference builds a gateway reference such as TXN-20250101-3F9A1C2B7D4E.
func GenerateReference(prefix string) string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102"), id[:12])
}
