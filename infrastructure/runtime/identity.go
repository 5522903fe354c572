package runtime

import (
	"os"
	"sync"
)

var (
	strictIdentityOnce  sync.Once
	strictIdentityValue bool
)

// ResetStrictIdentityModeCache clears the cached posture. Tests only.
func ResetStrictIdentityModeCache() {
	strictIdentityOnce = sync.Once{}
	strictIdentityValue = false
}

// StrictIdentityMode reports whether identity boundaries fail closed: every
// request to the system routes must carry valid x-request-signature headers
// and system tokens are never optional. Production is always strict; development and
// testing may opt in with GOVERNANCE_STRICT_IDENTITY so staging environments
// can rehearse the production posture.
//
// The value is captured once at first use: flipping the posture of a live
// process would make audit entries recorded before and after the flip
// unreconcilable.
func StrictIdentityMode() bool {
	strictIdentityOnce.Do(func() {
		strictIdentityValue = Env() == Production ||
			ParseBoolValue(os.Getenv("GOVERNANCE_STRICT_IDENTITY"))
	})
	return strictIdentityValue
}
