package webassets

import "embed"

// FS contains embedded web assets from this directory.

//go:embed dashboard-shell.js
var FS embed.FS
