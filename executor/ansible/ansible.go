// Package ansible runs ad-hoc modules against one managed host.
//
// A command's first element names the module and the remaining elements are
// joined into the module arguments, so ["shell", "systemctl", "restart",
// "qpidd"] becomes "-m shell -a 'systemctl restart qpidd'". Configuration
// semantics stay with the caller; this package only builds the vector and
// runs the CLI as a local process.
package ansible

import (
	"context"
	"maps"
	"slices"
	"strings"

	"github.com/kbukum/execkit/command"
	"github.com/kbukum/execkit/errors"
	"github.com/kbukum/execkit/execution"
	"github.com/kbukum/execkit/executor"
	"github.com/kbukum/execkit/logger"
	"github.com/kbukum/execkit/process"
)

func init() {
	executor.RegisterFactory(executor.BackendAnsible, func(providerCfg any, env executor.Env) (executor.Executor, error) {
		cfg, err := executor.ConfigAs[Config](providerCfg)
		if err != nil {
			return nil, err
		}
		return New(cfg, env.Pool, env.Log)
	})
}

// Executor translates commands into ansible ad-hoc invocations.
type Executor struct {
	cfg  Config
	pool *process.Pool
	log  *logger.Logger
}

// New creates an ansible executor.
func New(cfg Config, pool *process.Pool, log *logger.Logger) (*Executor, error) {
	if pool == nil {
		return nil, errors.MissingField("pool")
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.LaunchFailure(executor.BackendAnsible, err)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Executor{
		cfg:  cfg,
		pool: pool,
		log:  log.WithFields(map[string]interface{}{logger.FieldHost: cfg.Host}),
	}, nil
}

func (e *Executor) Name() string { return executor.BackendAnsible }

// Execute runs the module named by the command's first element.
func (e *Executor) Execute(ctx context.Context, cmd *command.Command) (execution.Execution, error) {
	if err := executor.Prepare(executor.BackendAnsible, cmd); err != nil {
		return nil, err
	}
	return executor.StartProcess(ctx, executor.BackendAnsible, e.pool, e.log, cmd, e.Args(cmd)), nil
}

// Args returns the ansible vector for cmd:
//
//	ansible HOST -i INVENTORY|HOST, -m MODULE [-a ARGS] [-u USER] [--private-key KEY] [-c CONN] [-b] [-e k=v]...
//
// The remaining elements become ARGS with their boundaries kept: an element
// that needs quoting is single-quoted, or only its value for key=value.
func (e *Executor) Args(cmd *command.Command) []string {
	argv := cmd.Args()
	inventory := e.cfg.Inventory
	if inventory == "" {
		inventory = e.cfg.Host + ","
	}

	args := []string{e.cfg.Binary, e.cfg.Host, "-i", inventory, "-m", argv[0]}
	if len(argv) > 1 {
		args = append(args, "-a", moduleArgs(argv[1:]))
	}
	if e.cfg.User != "" {
		args = append(args, "-u", e.cfg.User)
	}
	if e.cfg.KeyFile != "" {
		args = append(args, "--private-key", e.cfg.KeyFile)
	}
	if e.cfg.Connection != "" {
		args = append(args, "-c", e.cfg.Connection)
	}
	if e.cfg.Become {
		args = append(args, "-b")
	}
	for _, k := range slices.Sorted(maps.Keys(e.cfg.ExtraVars)) {
		args = append(args, "-e", k+"="+e.cfg.ExtraVars[k])
	}
	return args
}

func moduleArgs(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = quoteModuleArg(arg)
	}
	return strings.Join(parts, " ")
}

func quoteModuleArg(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\$`;&|<>(){}*?#~") {
		return arg
	}
	if k, v, ok := strings.Cut(arg, "="); ok && isIdent(k) {
		return k + "=" + executor.ShellQuote(v)
	}
	return executor.ShellQuote(arg)
}

func isIdent(s string) bool {
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return s != ""
}
