// Package testing switches binaries and the router into test mode when
// blank-imported from a test.
package testing

import (
	"os"
	"sync"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("SOURCING_TEST_MODE", "1")
	})
}

func init() {
	ensureTestMode()
}
