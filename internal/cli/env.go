package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/config"
	"github.com/gezibash/arc-contacts/internal/directory"
	"github.com/gezibash/arc-contacts/internal/directory/physical"
	"github.com/gezibash/arc-contacts/internal/observability"
)

// Env is what a contacts command runs against: the loaded configuration,
// observability, the configured backend and a directory over it.
type Env struct {
	Config    config.Config
	Obs       *observability.Observability
	Backend   physical.Backend
	Directory *directory.Directory

	logFile io.Closer
}

// OpenEnv loads configuration and opens the configured backend. Logs go to
// logTo, or to {data_dir}/log/cli.log when logTo is nil.
func OpenEnv(ctx context.Context, v *viper.Viper, configFile string, logTo io.Writer) (_ *Env, err error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	env := &Env{Config: cfg}
	if logTo == nil {
		logTo, env.logFile = openLogFile(cfg.DataDir)
	}
	defer func() {
		if err != nil {
			_ = env.Close(context.Background())
		}
	}()

	env.Obs, err = observability.New(ctx, observability.ObsConfig{
		LogLevel:       cfg.Observability.LogLevel,
		LogFormat:      cfg.Observability.LogFormat,
		OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
		OTLPProtocol:   cfg.Observability.OTLPProtocol,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	}, logTo)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	env.Backend, err = physical.New(ctx, cfg.Storage.Backend, cfg.StorageConfig(), env.Obs.Metrics)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Storage.Backend, err)
	}
	env.Obs.Shutdown.Register("backend", func(context.Context) error {
		return env.Backend.Close()
	})

	env.Directory, err = directory.New(env.Backend, DirectoryOptions(cfg, env.Obs.Metrics))
	if err != nil {
		return nil, err
	}
	env.Obs.Shutdown.Register("directory", func(context.Context) error {
		return env.Directory.Close()
	})
	return env, nil
}

// DirectoryOptions maps the page cache settings onto directory options.
func DirectoryOptions(cfg config.Config, metrics *observability.Metrics) directory.Options {
	pc := cfg.Directory.PageCache
	return directory.Options{
		Metrics: metrics,
		PageCache: directory.PageCacheOptions{
			Disabled:  !pc.Enabled,
			Threshold: pc.Threshold,
			Capacity:  pc.Capacity,
		},
	}
}

// Close runs the shutdown handlers, directory first, then the backend.
func (e *Env) Close(ctx context.Context) error {
	var errs []error
	if e.Obs != nil {
		errs = append(errs, e.Obs.Close(ctx))
	}
	if e.logFile != nil {
		errs = append(errs, e.logFile.Close())
	}
	return errors.Join(errs...)
}

// openLogFile opens {dataDir}/log/cli.log for appending. Logs are discarded
// when it cannot be opened.
func openLogFile(dataDir string) (io.Writer, io.Closer) {
	logDir := filepath.Join(dataDir, "log")
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return io.Discard, nil
	}
	f, err := os.OpenFile(filepath.Join(logDir, "cli.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) //nolint:gosec // path is constructed from known data dir
	if err != nil {
		return io.Discard, nil
	}
	return f, f
}

// CommandConfig configures a one-shot command run against an Env.
type CommandConfig struct {
	Viper *viper.Viper
	// ConfigFile is an explicit config file path; empty searches the defaults.
	ConfigFile string
	// Timeout bounds the command. Zero means no timeout.
	Timeout time.Duration
	// Out receives the rendered result. Defaults to stdout.
	Out io.Writer
	Run func(ctx context.Context, env *Env, out *Output) error
}

// RunCommand opens an Env, applies the timeout, runs the command with an
// Output in the configured format, and closes the Env.
func RunCommand(ctx context.Context, cfg CommandConfig) error {
	if cfg.Viper == nil {
		return errors.New("viper required")
	}
	if cfg.Run == nil {
		return errors.New("run function required")
	}

	env, err := OpenEnv(ctx, cfg.Viper, cfg.ConfigFile, nil)
	if err != nil {
		return err
	}
	defer func() { _ = env.Close(context.Background()) }()

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	out := NewOutputFromViper(cfg.Viper)
	if cfg.Out != nil {
		out = NewOutput(out.Format(), cfg.Out)
	}
	return cfg.Run(ctx, env, out)
}
