package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/martinemde/autocoder/agent"
	"github.com/martinemde/autocoder/automode"
	"github.com/martinemde/autocoder/command"
	"github.com/martinemde/autocoder/config"
	"github.com/martinemde/autocoder/llm"
	"github.com/martinemde/autocoder/logging"
	"github.com/martinemde/autocoder/sandbox"
)

// app holds the wired components behind one CLI invocation.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	executor *sandbox.Executor
	client   *llm.Client
	session  *agent.Session
	driver   *automode.Driver
	ui       *ui
}

// loadConfig reads the config file and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFile != "" {
		cfg.Log.File = logFile
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg *config.Config, stderr io.Writer) (*logging.Logger, error) {
	return logging.New(logging.Options{
		Level:    cfg.Log.Level,
		Terminal: stderr,
		File:     cfg.Log.File,
	})
}

// newExecutor builds the provisioner and executor for the configured runtime.
func newExecutor(cfg *config.Config, log *logging.Logger, workDir string) (*sandbox.Executor, error) {
	rt, err := sandbox.ParseRuntime(cfg.Sandbox.Runtime)
	if err != nil {
		return nil, err
	}
	popts := []sandbox.ProvisionerOption{
		sandbox.WithRuntime(rt),
		sandbox.WithProvisionerLogger(log.Logger),
	}
	if cfg.Sandbox.Interpreter != "" {
		popts = append(popts, sandbox.WithInterpreter(cfg.Sandbox.Interpreter))
	}
	prov := sandbox.NewLocalProvisioner(cfg.Sandbox.Dir, popts...)

	return sandbox.NewExecutor(prov,
		sandbox.WithRegistry(sandbox.NewRegistry(sandbox.WithRegistryLogger(log.Logger))),
		sandbox.WithWorkDir(workDir),
		sandbox.WithDefaultTimeout(cfg.Sandbox.Timeout.Duration),
		sandbox.WithExecutorLogger(log.Logger),
	), nil
}

// newClient builds the completion client. Retries are only installed when
// configured.
func newClient(cfg *config.Config, log *logging.Logger) (*llm.Client, error) {
	aopts := []llm.GollmAdapterOption{
		llm.WithModel(cfg.LLM.Model),
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
	}
	if cfg.LLM.Temperature > 0 {
		aopts = append(aopts, llm.WithTemperature(cfg.LLM.Temperature))
	}
	adapter, err := llm.NewGollmAdapter(cfg.LLM.Provider, cfg.LLM.APIKey, aopts...)
	if err != nil {
		return nil, err
	}

	middleware := []llm.Middleware{llm.LoggingMiddleware(log.Logger)}
	if cfg.LLM.MaxRetries > 0 {
		policy := llm.DefaultRetryPolicy()
		policy.MaxRetries = cfg.LLM.MaxRetries
		middleware = append(middleware, llm.RetryMiddleware(policy))
	}
	return llm.NewClient(
		llm.WithProvider(cfg.LLM.Provider, adapter),
		llm.WithDefaultModel(cfg.LLM.Model),
		llm.WithMiddleware(middleware...),
	), nil
}

// newApp wires every component for the interactive chat.
func newApp(cfg *config.Config, u *ui) (*app, error) {
	log, err := newLogger(cfg, u.errOut)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, ui: u}

	workDir, err := os.Getwd()
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	if a.executor, err = newExecutor(cfg, log, workDir); err != nil {
		a.Close()
		return nil, err
	}
	if a.client, err = newClient(cfg, log); err != nil {
		a.Close()
		return nil, err
	}
	detector, err := command.ForMode(cfg.Detect.Mode)
	if err != nil {
		a.Close()
		return nil, err
	}

	scfg := agent.DefaultSessionConfig()
	scfg.Model = cfg.LLM.Model
	scfg.Provider = cfg.LLM.Provider
	scfg.ExecTimeout = cfg.Sandbox.Timeout.Duration
	scfg.ContextWindow = cfg.LLM.ContextWindow
	scfg.WorkDir = workDir
	scfg.Runtime = cfg.Sandbox.Runtime

	a.session = agent.NewSession(a.client, nil, &scfg,
		agent.WithDetector(detector),
		agent.WithWorkspace(command.NewWorkspace(workDir)),
		agent.WithRunner(a.executor),
		agent.WithLogger(log.Logger),
	)
	a.driver = automode.NewDriver(a.session, a.session.Conversation(),
		automode.WithStallWindow(cfg.Automode.StallWindow),
		automode.WithEmitter(a.session.Emitter()),
		automode.WithLogger(log.Logger),
		automode.WithStepHook(a.showStep),
	)
	return a, nil
}

// Close ends the session, stops background jobs when configured and
// releases the log file.
func (a *app) Close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.executor != nil {
		if a.cfg.Sandbox.KillOnExit {
			if err := a.executor.Close(); err != nil {
				a.log.Warn("stopping background jobs", "error", err)
			}
		} else if jobs := a.executor.Jobs(); len(jobs) > 0 {
			a.ui.notice(fmt.Sprintf("%d background job(s) left running.", len(jobs)))
		}
	}
	if a.client != nil {
		_ = a.client.Close()
	}
	_ = a.log.Close()
}
