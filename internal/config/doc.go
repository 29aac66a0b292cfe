// Package config loads streamer configuration.
//
// Sources, in order of precedence (last wins):
//   - YAML file, with ${VAR} references expanded from the environment
//   - PAPERSTREAM_* environment variables (e.g. PAPERSTREAM_POOL_MAX_CONNECTIONS)
//   - Built-in defaults for anything still unset
package config
