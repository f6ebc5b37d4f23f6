// Package exitcodes defines the process exit statuses regress reports to the
// batch scheduler.
//
// * Success (0): the pipeline ran; under the default exit policy this is
//   returned even when stages failed
// * TestFailure (1): a stage failed and the exit policy reflects stage outcomes
// * ConfigError (2): configuration was empty or malformed, or the command
//   line was invalid; no stage ran
// * Cancelled (3): the run was interrupted by a signal
// * RuntimeErr (4): any other failure, e.g. a job could not be submitted
package exitcodes

const (
	Success     = 0
	TestFailure = 1
	ConfigError = 2
	Cancelled   = 3
	RuntimeErr  = 4
)
