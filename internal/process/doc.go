// Package process spawns shell commands as process groups and tears them down
// with an escalating signal sequence.
//
// Termination targets the root process and every descendant discovered at the
// moment Terminate is called: descendants are found by walking parent pids and
// by matching the root's process group, so children orphaned by an early root
// exit are still found. Processes forked after that enumeration are not chased
// individually; the final SIGKILL is also delivered to the whole process group,
// which catches any late child that did not leave it.
//
// The package relies on POSIX process groups and signals and is not supported
// on Windows.
package process
