// Package guard flips binaries into test mode when imported by a test, so
// main packages exercised from tests never dial Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "SALESPULSE_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
