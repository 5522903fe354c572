// Package testutil holds helpers shared by this module's test suites.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// NewHTTPTestServer starts an httptest.Server for handler, skipping the
// test instead of failing when the environment forbids opening a local
// listener.
func NewHTTPTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		msg := fmt.Sprint(r)
		if strings.Contains(msg, "operation not permitted") || strings.Contains(msg, "permission denied") {
			t.Skipf("local listeners unavailable in this environment: %v", r)
		}
		panic(r)
	}()
	return httptest.NewServer(handler)
}
