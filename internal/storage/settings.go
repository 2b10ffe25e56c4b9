package storage

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Settings reads one backend's configuration map. An empty value counts as
// unset. Values that do not parse are reported as *ConfigError naming the
// backend, the key and the rejected value.
type Settings struct {
	Backend string
	Values  map[string]string
}

// NewSettings wraps the configuration map of backend.
func NewSettings(backend string, values map[string]string) Settings {
	return Settings{Backend: backend, Values: values}
}

func (s Settings) lookup(key string) (string, bool) {
	v := s.Values[key]
	return v, v != ""
}

// String returns the value of key, or def when it is unset.
func (s Settings) String(key, def string) string {
	if v, ok := s.lookup(key); ok {
		return v
	}
	return def
}

// Required returns the value of key and fails when it is unset.
func (s Settings) Required(key string) (string, error) {
	v, ok := s.lookup(key)
	if !ok {
		return "", s.Error(key, "cannot be empty", nil)
	}
	return v, nil
}

// Path returns the required path under key with a leading ~ expanded.
func (s Settings) Path(key string) (string, error) {
	v, err := s.Required(key)
	if err != nil {
		return "", err
	}
	return ExpandPath(v), nil
}

// Bool accepts true/false, 1/0 and yes/no in any case.
func (s Settings) Bool(key string, def bool) (bool, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	}
	return false, s.Error(key, "must be a boolean (true/false, 1/0, yes/no)", nil)
}

// Int reads an integer no smaller than floor.
func (s Settings) Int(key string, def, floor int) (int, error) {
	n, err := s.Int64(key, int64(def), int64(floor))
	return int(n), err
}

// Int64 reads a 64-bit integer no smaller than floor.
func (s Settings) Int64(key string, def, floor int64) (int64, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, s.Error(key, "must be an integer", err)
	}
	if n < floor {
		return 0, s.Error(key, fmt.Sprintf("must be at least %d", floor), nil)
	}
	return n, nil
}

// Duration reads a Go duration ("5s", "1m30s") or a whole number of seconds.
func (s Settings) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := s.lookup(key)
	if !ok {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return 0, s.Error(key, "must be a duration (e.g. 5s, 1m30s) or whole seconds", nil)
}

// Error reports a problem with key, quoting its current value.
func (s Settings) Error(key, message string, cause error) *ConfigError {
	return &ConfigError{Backend: s.Backend, Field: key, Value: s.Values[key], Message: message, Cause: cause}
}

// ExpandPath expands a leading ~ to the user's home directory and cleans the path.
func ExpandPath(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, rest)
		}
		return path
	}
	return filepath.Clean(path)
}

// MergeConfig returns a new map holding dst overlaid with src.
func MergeConfig(dst, src map[string]string) map[string]string {
	out := make(map[string]string, len(dst)+len(src))
	maps.Copy(out, dst)
	maps.Copy(out, src)
	return out
}
