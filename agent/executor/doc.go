/*
Package executor runs a single child process and turns its output into lines.

An Executor spawns the process with stdout and stderr sharing one pipe, reaps it from a detached goroutine so the process table entry is always reclaimed, and drains the pipe line by line under an inactivity timeout. In batch mode the lines are collected and returned; in streaming mode they are grouped by a Batcher and pushed to a Sink as they arrive.

The inactivity timeout is a liveness bound, not a process timeout: when it fires the executor stops forwarding and returns, but the child keeps running until it exits on its own (unless KillOnCancel is set and the caller's context ends). Output written after the cutoff is read and discarded so the child never blocks on a full pipe.
*/
package executor
