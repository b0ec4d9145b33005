// Package exitcodes defines the process exit codes used by paratest.
//
// * Success (0): the run completed without an abort, regardless of test failures
// * ConfigError (1): bad flags, unreadable config, unknown plugin
// * Abort (2): a lifecycle script failed or tests were left unprocessed
package exitcodes

const (
	Success     = 0
	ConfigError = 1
	Abort       = 2
)
