// Package guard forces test mode for packages that would otherwise start
// runtime side effects when imported from tests. Blank-import it before any
// package that checks app.InTestMode.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("KASIRA_TEST_MODE") == "" {
			_ = os.Setenv("KASIRA_TEST_MODE", "1")
		}
	})
}
