package httpapi

import (
	"github.com/r3e-network/security-governance-core/internal/bootstrap"
)

// handlers groups the route handlers over a shared Container. It is
// unexported: NewRouter is the package's only public construction seam.
type handlers struct {
	c *bootstrap.Container
}
