// Package templates embeds the files cargo-task scaffolds into a project.
package templates

import "embed"

//go:embed cargo-task.yaml task.rs.tmpl
var FS embed.FS
