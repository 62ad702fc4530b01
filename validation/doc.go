// Package validation checks configuration structs against their `validate`
// tags and reports failures as execkit errors named after the config keys.
package validation
