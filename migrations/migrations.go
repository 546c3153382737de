// Package migrations embeds the cache schema for each supported database.
package migrations

import "embed"

// Files holds the SQL migrations, one directory per dialect.
//
//go:embed postgres/*.sql sqlite/*.sql
var Files embed.FS
