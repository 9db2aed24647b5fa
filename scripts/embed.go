// Package scripts embeds the bundled analysis and transform scripts.
package scripts

import "embed"

// FS holds analysis/{lang}.risor and transform/{lang}.risor.
//
//go:embed analysis/*.risor transform/*.risor
var FS embed.FS
