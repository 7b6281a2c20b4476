package cache

import "fmt"

// GenerateKey creates a namespaced cache key, e.g. "market:AAPL".
func GenerateKey(prefix, id string) string {
	return fmt.Sprintf("%s:%s", prefix, id)
}
