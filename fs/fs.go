// Package appfs embeds files needed at runtime, such as database migrations.
package appfs

import "embed"

//go:embed migrations
var FS embed.FS
