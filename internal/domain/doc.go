// Package domain defines the core entities of the process execution
// engine: job records, the job status state machine, request
// fingerprints, and the error taxonomy shared by every layer.
package domain
