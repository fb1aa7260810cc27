// Package all is a meta-package that imports all store implementations.
//
// Import it for side effects wherever the backend comes from configuration.
package all

import (
	_ "github.com/TecharoHQ/torauth/lib/store/bbolt"
	_ "github.com/TecharoHQ/torauth/lib/store/memory"
	_ "github.com/TecharoHQ/torauth/lib/store/valkey"
)
