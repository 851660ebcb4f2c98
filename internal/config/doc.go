// Package config loads the relay's configuration: built-in defaults,
// optionally overridden by a JSON file, optionally overridden by RELAY_*
// environment variables.
package config
