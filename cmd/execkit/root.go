package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/config"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/session"
	"github.com/kbukum/execkit/version"
)

const appName = "execkit"

// exitError carries the exit status of the executed command.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func exitCode(err error) (int, bool) {
	var ee *exitError
	if stderrors.As(err, &ee) {
		return ee.code, true
	}
	return 0, false
}

type runFlags struct {
	configFile string
	verbose    bool

	backend  string
	timeout  time.Duration
	encoding string
	dir      string
	env      []string
	noStdout bool
	noStderr bool

	host      string
	port      int
	user      string
	keyFile   string
	container string
	namespace string
	selector  string
	pod       string
	inventory string
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	flags := &runFlags{}

	root := &cobra.Command{
		Use:           appName,
		Short:         "Run commands locally, over ssh, in containers, in pods or through ansible",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&flags.configFile, "config", "", "config file to load (default: execkit.yml in the working directory)")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "debug logging")

	root.AddCommand(newRunCmd(flags), newBackendsCmd(), newVersionCmd())
	return root
}

func newRunCmd(flags *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [flags] -- ARGS...",
		Short: "Execute one command and exit with its status",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRun(cmd, flags, args)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&flags.backend, "backend", "b", "", "backend or alias (default from config, else local)")
	f.DurationVarP(&flags.timeout, "timeout", "t", 0, "terminate the command after this duration")
	f.StringVar(&flags.encoding, "encoding", "", "output encoding (default utf-8)")
	f.StringVar(&flags.dir, "dir", "", "working directory")
	f.StringArrayVarP(&flags.env, "env", "e", nil, "environment variable KEY=VALUE, repeatable")
	f.BoolVar(&flags.noStdout, "no-stdout", false, "do not capture stdout")
	f.BoolVar(&flags.noStderr, "no-stderr", false, "do not capture stderr")

	f.StringVar(&flags.host, "host", "", "ssh or ansible target host")
	f.IntVar(&flags.port, "port", 0, "ssh port")
	f.StringVar(&flags.user, "user", "", "remote or in-container user")
	f.StringVar(&flags.keyFile, "key", "", "private key file")
	f.StringVar(&flags.container, "container", "", "docker container, or container within the pod")
	f.StringVar(&flags.namespace, "namespace", "", "kubernetes namespace")
	f.StringVar(&flags.selector, "selector", "", "kubernetes label selector")
	f.StringVar(&flags.pod, "pod", "", "kubernetes pod name")
	f.StringVar(&flags.inventory, "inventory", "", "ansible inventory")
	return cmd
}

func doRun(cmd *cobra.Command, flags *runFlags, args []string) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := session.Open(ctx, *cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close(context.WithoutCancel(ctx)) }()

	e, err := s.Executor(cfg.Backend)
	if err != nil {
		return err
	}

	opts := []command.Option{
		command.WithStdout(!flags.noStdout),
		command.WithStderr(!flags.noStderr),
		command.WithTimeout(flags.timeout),
		command.WithStdin(cmd.InOrStdin()),
	}
	if flags.encoding != "" {
		opts = append(opts, command.WithEncoding(flags.encoding))
	}
	if flags.dir != "" {
		opts = append(opts, command.WithDir(flags.dir))
	}
	if len(flags.env) > 0 {
		opts = append(opts, command.WithEnv(flags.env...))
	}

	ex, runErr := executor.Run(ctx, e, command.New(args, opts...))
	if ex == nil {
		return runErr
	}
	_, _ = io.WriteString(cmd.OutOrStdout(), ex.ReadStdout())
	_, _ = io.WriteString(cmd.ErrOrStderr(), ex.ReadStderr())

	switch {
	case ex.CompletedSuccessfully():
		return nil
	case ex.Interrupted():
		return &exitError{code: 130}
	case ex.TimedOut():
		return &exitError{code: 124}
	case ex.Failure():
		return ex.Err()
	case ex.ExitCode() > 0:
		return &exitError{code: ex.ExitCode()}
	default:
		return &exitError{code: 1}
	}
}

// loadConfig reads the config file and applies the command line on top.
func loadConfig(flags *runFlags) (*session.Config, error) {
	var opts []config.LoaderOption
	if flags.configFile != "" {
		opts = append(opts, config.WithConfigFile(flags.configFile))
	}
	cfg, err := session.Load(appName, opts...)
	if err != nil {
		return nil, err
	}
	if flags.verbose {
		cfg.Logging.Level = "debug"
	}
	if flags.backend != "" {
		cfg.Backend = executor.Canonical(flags.backend)
		if _, err := cfg.BackendConfig(cfg.Backend); err != nil {
			return nil, err
		}
	}
	applyTargetFlags(cfg, flags)
	return cfg, nil
}

func applyTargetFlags(cfg *session.Config, flags *runFlags) {
	b := &cfg.Backends
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&b.SSH.Host, flags.host)
	set(&b.SSH.User, flags.user)
	set(&b.SSH.KeyFile, flags.keyFile)
	if flags.port != 0 {
		b.SSH.Port = flags.port
	}
	set(&b.Docker.Container, flags.container)
	set(&b.Docker.User, flags.user)
	set(&b.Kubernetes.Namespace, flags.namespace)
	set(&b.Kubernetes.Selector, flags.selector)
	set(&b.Kubernetes.Pod, flags.pod)
	set(&b.Kubernetes.Container, flags.container)
	set(&b.Ansible.Host, flags.host)
	set(&b.Ansible.User, flags.user)
	set(&b.Ansible.KeyFile, flags.keyFile)
	set(&b.Ansible.Inventory, flags.inventory)
}

func newBackendsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backends",
		Short: "List the registered backends",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range executor.Registered() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.Get().String())
		},
	}
}
