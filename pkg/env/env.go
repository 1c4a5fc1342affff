package env

import (
	"os"
	"strings"
)

// Prefix namespaces every variable the services read.
const Prefix = "PAYSAGA_"

// Get returns PAYSAGA_<key>, then the bare key, then fallback. The bare form
// keeps platform variables such as PORT working.
func Get(key, fallback string) string {
	key = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(key)), Prefix)
	if val := strings.TrimSpace(os.Getenv(Prefix + key)); val != "" {
		return val
	}
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
