// Package sandbox runs model-generated code as independent OS processes
// inside a dedicated runtime environment.
//
// A Provisioner lazily creates the environment (a Python venv or a plain
// shell bin directory). The Executor writes each request to its own source
// file, launches it in a new process group and waits up to a timeout. Jobs
// that outlive the wait stay tracked in the Registry and can be queried or
// terminated by identifier.
//
// The environment separates job dependencies from the host; it is not a
// security boundary.
package sandbox
