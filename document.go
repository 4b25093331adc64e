package buildlog

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// Document is the build log a session is opened for.
//
// Document is a value type: it carries identity and configuration but no
// runtime state. Engines deep-copy it on Start.
type Document struct {
	// ID identifies the document and the session opened for it in logs.
	ID string `json:"id"`

	// Path is the absolute path of the log file handed to the engine.
	Path string `json:"path"`

	// Env holds extra environment variables for the engine process.
	// Entries override inherited variables with the same key.
	Env map[string]string `json:"env,omitempty"`

	// Options holds engine-specific key-value configuration. Well-known
	// keys are the Option* constants.
	Options map[string]string `json:"options,omitempty"`
}

// NewDocument returns a Document for path with a fresh random ID.
func NewDocument(path string) Document {
	return Document{ID: uuid.NewString(), Path: path}
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d.Env != nil {
		d.Env = maps.Clone(d.Env)
	}
	if d.Options != nil {
		d.Options = maps.Clone(d.Options)
	}
	return d
}

// ValidateEnv checks that env can be passed to a subprocess: keys must be
// non-empty and free of '=' and null bytes, values free of null bytes.
func ValidateEnv(env map[string]string) error {
	var errs []error
	for k, v := range env {
		switch {
		case k == "":
			errs = append(errs, errors.New("env: empty key"))
		case strings.ContainsAny(k, "=\x00"):
			errs = append(errs, fmt.Errorf("env: invalid key %q", k))
		}
		if strings.ContainsRune(v, '\x00') {
			errs = append(errs, fmt.Errorf("env: value for %q contains null bytes", k))
		}
	}
	return errors.Join(errs...)
}

// MergeEnv returns base with overrides applied. Keys in overrides replace
// matching "KEY=..." entries of base; new keys are appended in sorted order.
// Returns nil when overrides is empty so exec.Cmd inherits the parent env.
func MergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return nil
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[k]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
