// Package templates embeds the default exit criteria and the role
// instruction files seeded into a new .pic/ workspace.
package templates

import "embed"

//go:embed criteria.yaml pic.md instructions
var FS embed.FS
