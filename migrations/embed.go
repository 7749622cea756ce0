// Package migrations ships the star schema DDL inside the binary.
package migrations

import "embed"

// FS holds the numbered SQL files at its root.
//
//go:embed *.sql
var FS embed.FS
