// Package executor turns a Command into an Execution on one backend.
//
// Backends live in subpackages (local, ssh, docker, kubernetes, ansible) and
// register a Factory under their name at init time, the way database drivers
// do. Import the backends you need for their side effect and build executors
// by name:
//
//	import _ "github.com/kbukum/execkit/executor/ssh"
//
//	e, err := executor.New("ssh", ssh.Config{Host: "broker-1", User: "qa", KeyFile: key}, env)
//	exec, err := e.Execute(ctx, command.New([]string{"qpidd", "--version"}))
//
// An executor never mutates the Command it is given; it derives the vector
// it launches from a copy.
package executor
