package main

// Exit codes
const (
	ExitSuccess     = 0 // Success
	ExitError       = 1 // General error (invalid arguments, runtime failure)
	ExitConfigError = 2 // Configuration error (invalid config, missing email, unreadable sources)
	ExitDataError   = 3 // Data error (missing input directory, unwritable output)
	ExitGateFailed  = 4 // Quality gate or strict merge limit violated
)
