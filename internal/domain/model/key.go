package model

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// IdentityKey derives an on-disk key from an account secret so the secret
// itself never lands in a database row or file name.
func IdentityKey(account string) string {
	account = strings.TrimSpace(account)
	if account == "" {
		return ""
	}
	hash := sha1.Sum([]byte(account))
	return hex.EncodeToString(hash[:])
}
