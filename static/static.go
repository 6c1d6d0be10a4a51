// Package static embeds the browser UI so the binary ships as a single
// file.
package static

import "embed"

//go:embed ui
var FS embed.FS
