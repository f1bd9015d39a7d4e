// Package guard pins the process environment for test runs. Importing it for
// side effects keeps the application entrypoints inert and points the PDF
// renderer at an unroutable address, so a stray constructor can never reach a
// real service.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("PHARMALENS_TEST_MODE") == "" {
			_ = os.Setenv("PHARMALENS_TEST_MODE", "1")
		}
		if os.Getenv("GOTENBERG_URL") == "" {
			_ = os.Setenv("GOTENBERG_URL", "http://127.0.0.1:0")
		}
	})
}
