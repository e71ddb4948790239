// Package config loads the single configuration file used by every pnctd
// subcommand. The file may be JSON or YAML (chosen by extension); missing
// fields get defaults, relative paths resolve against the file's directory,
// and secrets can be supplied indirectly through *_env fields that name an
// environment variable.
package config
