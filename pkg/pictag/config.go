package pictag

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/tstromberg/pictag/pkg/vision"
)

// Defaults for settings that are not supplied.
const (
	DefaultDelay    = 18000 * time.Millisecond
	DefaultMaxBytes = 2000000
	DefaultLongEdge = 1200
	DefaultQuality  = 60
)

// EnvPrefix is prepended to setting names when looking them up in the environment.
var EnvPrefix = "PICTAG_"

// Config holds the resolved settings for a run. It is built once and not modified.
type Config struct {
	Root     string
	Endpoint string
	Params   string
	Key      string

	Delay time.Duration
	Force bool
	Skip  bool

	DryRun    bool
	BackupDir string

	MaxBytes int64
	LongEdge int
	Quality  int
}

// settingNames maps keys in the settings store to the command-line names.
var settingNames = map[string]string{
	"PATH":       "path",
	"TIMEOUT":    "timeout",
	"ENDPOINT":   "endpoint",
	"KEY":        "key",
	"PARAMETERS": "params",
	"FORCE":      "force",
	"SKIP":       "skip",
	"BACKUP":     "backup",
}

// ReadSettings loads the fallback settings store: PICTAG_* environment
// variables, overridden by the dotenv file at path. A missing file is only an
// error when required is set. Returned keys use the command-line names.
func ReadSettings(path string, required bool) (map[string]string, error) {
	out := map[string]string{}
	for name, key := range settingNames {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok {
			out[key] = v
		}
	}

	if path == "" {
		return out, nil
	}

	kv, err := godotenv.Read(path)
	if err != nil {
		if !required && errors.Is(err, os.ErrNotExist) {
			klog.V(1).Infof("no settings file at %s", path)
			return out, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	for k, v := range kv {
		key, ok := settingNames[strings.ToUpper(k)]
		if !ok {
			klog.Warningf("%s: unknown setting %q", path, k)
			continue
		}
		out[key] = v
	}
	return out, nil
}

// Resolve builds a Config. Command-line values in flags take precedence over
// the settings store.
func Resolve(flags map[string]string, store map[string]string) (*Config, error) {
	get := func(k string) (string, bool) {
		if v, ok := flags[k]; ok {
			return v, true
		}
		v, ok := store[k]
		return v, ok
	}

	c := &Config{
		Params:   vision.DefaultParams,
		Delay:    DefaultDelay,
		MaxBytes: DefaultMaxBytes,
		LongEdge: DefaultLongEdge,
		Quality:  DefaultQuality,
	}

	c.Root, _ = get("path")
	c.Endpoint, _ = get("endpoint")
	c.Key, _ = get("key")
	c.BackupDir, _ = get("backup")
	if v, ok := get("params"); ok && v != "" {
		c.Params = v
	}

	if v, ok := get("timeout"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return nil, fmt.Errorf("timeout %q: want a non-negative number of milliseconds", v)
		}
		c.Delay = time.Duration(ms) * time.Millisecond
	}

	for k, dst := range map[string]*bool{"force": &c.Force, "skip": &c.Skip, "n": &c.DryRun} {
		v, ok := get(k)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("%s %q: %w", k, v, err)
		}
		*dst = b
	}

	switch {
	case c.Root == "":
		return nil, errors.New("path is required")
	case c.Endpoint == "":
		return nil, errors.New("endpoint is required (flag or ENDPOINT setting)")
	case c.Key == "":
		return nil, errors.New("key is required (flag or KEY setting)")
	}

	return c, nil
}
