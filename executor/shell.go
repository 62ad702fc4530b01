package executor

import "strings"

// ShellQuote quotes value for a POSIX shell.
func ShellQuote(value string) string {
	if value == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(value, "'", `'"'"'`) + "'"
}

// ShellJoin quotes every argument and joins them into one shell command line.
func ShellJoin(args []string) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(ShellQuote(arg))
	}
	return b.String()
}

// RemoteCommandLine renders args as a shell line for a remote host, changing
// to dir and exporting env first when set.
func RemoteCommandLine(args []string, dir string, env []string) string {
	var b strings.Builder
	if dir != "" {
		b.WriteString("cd ")
		b.WriteString(ShellQuote(dir))
		b.WriteString(" && ")
	}
	if len(env) > 0 {
		b.WriteString("env ")
		b.WriteString(ShellJoin(env))
		b.WriteByte(' ')
	}
	b.WriteString(ShellJoin(args))
	return b.String()
}
