// Package torauth contains the version number and shared defaults of torauth.
package torauth

import "time"

// Version is the current version of torauth.
//
// This variable is set at build time using the -X linker flag. If not set,
// it defaults to "devel".
var Version = "devel"

const (
	// DefaultRandomLength is the number of random bytes a challenge carries.
	DefaultRandomLength = 24

	// DefaultRetention is how long an unredeemed challenge stays valid.
	DefaultRetention = time.Hour

	// DefaultSweepInterval is how often the confirmation loop evicts expired
	// challenges when no proofs arrive.
	DefaultSweepInterval = time.Second

	// DefaultQueueSize is the number of inbound proofs buffered between the
	// intake transports and the confirmation loop.
	DefaultQueueSize = 1024

	// DefaultOutcomeTTL is how long resolved outcomes stay in the journal.
	DefaultOutcomeTTL = 15 * time.Minute
)

// APIPrefix is the URL path prefix of every torauth HTTP route.
var APIPrefix = "/api/"
