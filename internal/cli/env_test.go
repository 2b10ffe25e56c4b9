package cli

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"

	"github.com/gezibash/arc-contacts/internal/config"
	"github.com/gezibash/arc-contacts/internal/directory"
	_ "github.com/gezibash/arc-contacts/internal/directory/physical/memory"
)

func memoryViper(t *testing.T) *viper.Viper {
	t.Helper()
	t.Chdir(t.TempDir())
	v := viper.New()
	v.Set("data_dir", t.TempDir())
	v.Set("storage.backend", "memory")
	return v
}

func TestRunCommand(t *testing.T) {
	v := memoryViper(t)
	v.Set("output", "json")

	var ran bool
	err := RunCommand(context.Background(), CommandConfig{
		Viper: v,
		Run: func(ctx context.Context, env *Env, out *Output) error {
			ran = true
			if env.Config.Storage.Backend != "memory" {
				t.Errorf("backend = %q", env.Config.Storage.Backend)
			}
			if out.Format() != FormatJSON {
				t.Errorf("format = %q", out.Format())
			}
			n, err := env.Directory.Count(ctx, nil)
			if err != nil || n != 0 {
				t.Errorf("Count = %d, %v", n, err)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("RunCommand: %v", err)
	}
	if !ran {
		t.Fatal("Run was not called")
	}

	logPath := filepath.Join(v.GetString("data_dir"), "log", "cli.log")
	if _, err := os.Stat(logPath); err != nil {
		t.Errorf("command log not written: %v", err)
	}
}

func TestRunCommandPropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := RunCommand(context.Background(), CommandConfig{
		Viper: memoryViper(t),
		Run:   func(context.Context, *Env, *Output) error { return want },
	})
	if !errors.Is(err, want) {
		t.Errorf("error = %v, want %v", err, want)
	}
}

func TestRunCommandRequiresRun(t *testing.T) {
	if err := RunCommand(context.Background(), CommandConfig{Viper: viper.New()}); err == nil {
		t.Error("expected error without Run")
	}
	if err := RunCommand(context.Background(), CommandConfig{Run: func(context.Context, *Env, *Output) error { return nil }}); err == nil {
		t.Error("expected error without Viper")
	}
}

func TestOpenEnvUnknownBackend(t *testing.T) {
	v := memoryViper(t)
	v.Set("storage.backend", "floppy")
	if _, err := OpenEnv(context.Background(), v, "", nil); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestDirectoryOptions(t *testing.T) {
	cfg := config.Config{Directory: config.DirectoryConfig{PageCache: config.PageCacheConfig{
		Enabled: false, Threshold: 10, Capacity: 5,
	}}}
	got := DirectoryOptions(cfg, nil)
	want := directory.PageCacheOptions{Disabled: true, Threshold: 10, Capacity: 5}
	if got.PageCache != want {
		t.Errorf("PageCache = %+v, want %+v", got.PageCache, want)
	}
}
