// Package process defines the capability contract a computational
// process must satisfy to be exposed through the execution API, the
// registry processes are looked up in, and schema validation of
// request inputs against a process's declared description.
package process
