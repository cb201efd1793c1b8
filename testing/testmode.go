// Package testing switches the process into test mode when imported for
// side effects, so entrypoints and runtime helpers skip network startup.
package testing

import (
	"os"
	"sync"
)

var once sync.Once

// Defaults applied when the environment leaves them empty.
var defaults = map[string]string{
	"SCHOOLHUB_TEST_MODE": "1",
	"API_BASE_URL":        "http://127.0.0.1:0/api",
	"REDIS_ADDR":          "127.0.0.1:0",
}

// Enable applies the test environment once per process.
func Enable() {
	once.Do(func() {
		for key, value := range defaults {
			if os.Getenv(key) == "" {
				_ = os.Setenv(key, value)
			}
		}
	})
}

func init() {
	Enable()
}
