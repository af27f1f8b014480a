package ecocloud

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// signPayload computes the request signature: all parameters plus the
// accessKey, nonce and timestamp are sorted lexicographically by key,
// joined as k=v pairs with '&', and HMAC-SHA256 digested with the secret
// key. The digest is hex encoded.
func signPayload(secretKey string, params map[string]string, accessKey, nonce, timestamp string) string {
	merged := make(map[string]string, len(params)+3)
	for key, value := range params {
		merged[key] = value
	}
	merged["accessKey"] = accessKey
	merged["nonce"] = nonce
	merged["timestamp"] = timestamp

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, key+"="+merged[key])
	}
	joined := strings.Join(pairs, "&")

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(joined))
	return hex.EncodeToString(mac.Sum(nil))
}

// newNonce produces a fresh six-digit random nonce. Nonces are single-use
// and never shared between requests.
func newNonce() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
