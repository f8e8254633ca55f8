package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/gofrs/flock"
)

// Runtime selects the interpreter family used to run job sources.
type Runtime string

const (
	// RuntimePython runs sources with the interpreter of a dedicated venv.
	RuntimePython Runtime = "python"
	// RuntimeShell runs sources with the POSIX shell.
	RuntimeShell Runtime = "sh"
)

// ParseRuntime validates a runtime name.
func ParseRuntime(s string) (Runtime, error) {
	switch Runtime(strings.ToLower(strings.TrimSpace(s))) {
	case RuntimePython, "":
		return RuntimePython, nil
	case RuntimeShell, "shell":
		return RuntimeShell, nil
	default:
		return "", fmt.Errorf("unknown runtime %q (want python or sh)", s)
	}
}

// Environment describes a provisioned execution environment: where it lives
// and how to run a source file inside it.
type Environment struct {
	Runtime     Runtime
	Root        string
	BinDir      string
	Interpreter string
	SourceExt   string
}

// JobsDir is where per-job source files are written.
func (e *Environment) JobsDir() string {
	return filepath.Join(e.Root, "jobs")
}

// Environ activates the environment on top of base: the environment's bin
// directory goes first on PATH and, for Python, VIRTUAL_ENV is set.
func (e *Environment) Environ(base []string) []string {
	out := make([]string, 0, len(base)+2)
	path := ""
	for _, kv := range base {
		name, value, _ := strings.Cut(kv, "=")
		switch strings.ToUpper(name) {
		case "PATH":
			path = value
			continue
		case "VIRTUAL_ENV", "PYTHONHOME":
			continue
		}
		out = append(out, kv)
	}
	if e.BinDir != "" {
		if path == "" {
			path = e.BinDir
		} else {
			path = e.BinDir + string(os.PathListSeparator) + path
		}
	}
	if path != "" {
		out = append(out, "PATH="+path)
	}
	if e.Runtime == RuntimePython {
		out = append(out, "VIRTUAL_ENV="+e.Root)
	}
	return out
}

// Command builds the (unstarted) command that runs sourcePath.
func (e *Environment) Command(sourcePath string) *exec.Cmd {
	return exec.Command(e.Interpreter, sourcePath)
}

// Provisioner ensures an execution environment exists. Ensure is idempotent
// and safe to call before every execution.
type Provisioner interface {
	Ensure(ctx context.Context) (*Environment, error)
}

// LocalProvisioner creates the environment under a directory on local disk.
type LocalProvisioner struct {
	root        string
	runtime     Runtime
	interpreter string
	logger      *slog.Logger

	mu  sync.Mutex
	env *Environment
}

// ProvisionerOption configures a LocalProvisioner.
type ProvisionerOption func(*LocalProvisioner)

// WithRuntime selects the runtime (python by default).
func WithRuntime(rt Runtime) ProvisionerOption {
	return func(p *LocalProvisioner) { p.runtime = rt }
}

// WithInterpreter sets the host interpreter used to bootstrap the
// environment: the python that creates the venv, or the shell binary.
func WithInterpreter(path string) ProvisionerOption {
	return func(p *LocalProvisioner) { p.interpreter = path }
}

// WithProvisionerLogger sets the logger.
func WithProvisionerLogger(l *slog.Logger) ProvisionerOption {
	return func(p *LocalProvisioner) { p.logger = l }
}

// NewLocalProvisioner creates a provisioner rooted at dir. Relative paths are
// resolved against the current working directory.
func NewLocalProvisioner(dir string, opts ...ProvisionerOption) *LocalProvisioner {
	if dir == "" {
		dir = "code_execution_env"
	}
	if !filepath.IsAbs(dir) {
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
	}
	p := &LocalProvisioner{
		root:    dir,
		runtime: RuntimePython,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Root returns the environment directory.
func (p *LocalProvisioner) Root() string { return p.root }

// Ensure creates the environment on first use and returns its descriptor.
// A file lock next to the root serializes provisioning across processes.
func (p *LocalProvisioner) Ensure(ctx context.Context) (*Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.env != nil {
		return p.env, nil
	}

	if err := os.MkdirAll(filepath.Dir(p.root), 0755); err != nil {
		return nil, &SetupError{Path: p.root, Cause: err}
	}
	lock := flock.New(p.root + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, &SetupError{Path: p.root, Cause: fmt.Errorf("acquire lock: %w", err)}
	}
	defer func() { _ = lock.Unlock() }()

	var (
		env *Environment
		err error
	)
	switch p.runtime {
	case RuntimeShell:
		env, err = p.ensureShell()
	default:
		env, err = p.ensureVenv(ctx)
	}
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(env.JobsDir(), 0755); err != nil {
		return nil, &SetupError{Path: p.root, Cause: err}
	}

	p.env = env
	return env, nil
}

func (p *LocalProvisioner) ensureShell() (*Environment, error) {
	shell := p.interpreter
	if shell == "" {
		shell = "sh"
	}
	resolved, err := exec.LookPath(shell)
	if err != nil {
		return nil, &SetupError{Path: p.root, Cause: err}
	}
	bin := filepath.Join(p.root, "bin")
	if err := os.MkdirAll(bin, 0755); err != nil {
		return nil, &SetupError{Path: p.root, Cause: err}
	}
	return &Environment{
		Runtime:     RuntimeShell,
		Root:        p.root,
		BinDir:      bin,
		Interpreter: resolved,
		SourceExt:   ".sh",
	}, nil
}

func (p *LocalProvisioner) ensureVenv(ctx context.Context) (*Environment, error) {
	binDir := filepath.Join(p.root, "bin")
	python := filepath.Join(binDir, "python")
	if runtime.GOOS == "windows" {
		binDir = filepath.Join(p.root, "Scripts")
		python = filepath.Join(binDir, "python.exe")
	}
	env := &Environment{
		Runtime:     RuntimePython,
		Root:        p.root,
		BinDir:      binDir,
		Interpreter: python,
		SourceExt:   ".py",
	}

	if _, err := os.Stat(filepath.Join(p.root, "pyvenv.cfg")); err == nil {
		return env, nil
	}

	host := p.interpreter
	if host == "" {
		host = "python3"
		if runtime.GOOS == "windows" {
			host = "python"
		}
	}
	p.logger.Info("creating execution environment", "root", p.root, "python", host)
	cmd := exec.CommandContext(ctx, host, "-m", "venv", p.root)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, &SetupError{Path: p.root, Cause: fmt.Errorf("%s -m venv: %w: %s", host, err, strings.TrimSpace(string(out)))}
	}
	return env, nil
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that are never passed to sandboxed jobs.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns the host environment without credentials.
func filterEnvironment(environ []string) []string {
	var filtered []string
	for _, kv := range environ {
		name, _, ok := strings.Cut(kv, "=")
		if !ok || isSensitiveEnvVar(name) {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}
