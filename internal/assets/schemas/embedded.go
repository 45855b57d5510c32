// Package schemasassets provides embedded JSON schemas for standalone binary behavior.
//
// Schemas are embedded at compile time so config validation works regardless
// of the working directory or installation location.
package schemasassets

import _ "embed"

// ConfigSchema is the embedded icafixsubmit config file JSON schema.
//
//go:embed config.schema.json
var ConfigSchema []byte
