// Package migrations embeds the versioned schema files applied by
// "visit-queue migrate".
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
