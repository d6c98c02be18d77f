// Package config loads the service configuration from the environment and
// locates the rewrite vocabulary file.
//
// Every variable carries the SEARCHVEIL_ prefix. Nested user defaults use
// SEARCHVEIL_CONFIG_, for example SEARCHVEIL_CONFIG_THEME=dark or
// SEARCHVEIL_CONFIG_BLOCK=pinterest.com,quora.com.
package config
