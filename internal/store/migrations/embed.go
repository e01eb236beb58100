// Package migrations embeds the engine's schema so it ships inside the
// binary, following the embed.FS pattern frameworks/pkg/database/sql
// uses for its schema directory (Livepeer-FrameWorks-monorepo).
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
