// Package config loads dapsession settings.
//
// Settings come from, lowest precedence first: built-in defaults, a
// dapsession.yaml file (searched in the user config directory, then the
// working directory), and DAPSESSION_ environment variables where nested
// keys use underscores:
//
//	DAPSESSION_LOG_LEVEL=debug
//	DAPSESSION_DEBUG_REQUEST_TIMEOUT=10s
//
// A missing config file is not an error.
package config
