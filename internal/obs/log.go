// Package obs provides the logging and error conventions shared across the
// merge-commit packages.
package obs

import (
	golog "github.com/ipfs/go-log"
)

// Logger is the package-wide structured logger. The protocol packages in
// this module do not log through it.
var Logger = golog.Logger("mergecommit")
