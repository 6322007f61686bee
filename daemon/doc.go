/*
Package daemon implements the spawning engine: the daemon content, its
event loop, the connection manager, the spawning state machine, the process
supervisor and the child side pipeline.

Protocol between the client and the daemon (unix stream socket):

	request:  header + TLVs, optionally with fds (SCM_RIGHTS)
	response: header + result code + pid, in request order per connection

Protocol between the daemon and a spawned child (re-exec of the binary):

	fd 3: result pipe, the child writes a single 4-byte result code
	warm child:  --mode appspawn_child, fd 4 sealed memfd with the payload,
	             passed fds from fd 5
	cold child:  -mode app_cold|nweb_cold -fd 3 <flags> <size> -param
	             <process> <clientId>, payload in the named region,
	             passed fds from fd 4

The child runs the child hook stages, reports its result and execs the
launcher. A result channel closed without a result is a crash. The daemon
never waits for the child it spawned directly, every exit is collected by
the SIGCHLD handler.

All state is owned by the goroutine running Mgr.Run. Socket readers, result
channel watchers and timers only post closures to it.
*/
package daemon
