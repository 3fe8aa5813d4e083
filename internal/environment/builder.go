// Package environment builds the exec-time environment from the
// invoker's environment, the resolved policy settings, and the PAM
// stack's own environment additions, per the env_reset/env_keep rules.
package environment

import (
	"fmt"
	"path"
	"strings"
)

const pathMax = 4096

// User is the subset of a passwd entry the builder needs.
type User struct {
	Name  string
	UID   int
	GID   int
	Home  string
	Shell string
}

// Options carries the command-line flags that feed back into
// environment construction (-i, -s, --preserve-env names, plus the
// command and its arguments).
type Options struct {
	LoginShell   bool // -i
	ShellMode    bool // -s
	PreserveEnv  []string
	Command      string
	CommandArgs  []string
}

// Policy is the subset of the resolved Settings the builder consults.
type Policy struct {
	EnvReset    bool
	EnvKeep     []string
	EnvCheck    []string
	DefaultPath string
	SecurePath  string
}

// Builder constructs the target process's environment.
type Builder struct {
	Policy      Policy
	Invoker     User
	Target      User
	InvokerEnv  map[string]string
	PAMEnv      map[string]string
	ZoneinfoDir string
}

// Build produces the final environment as a sorted K=V slice, ready
// to hand to the supervisor's exec call.
func (b *Builder) Build(opts Options) []string {
	env := map[string]string{}

	if !b.Policy.EnvReset {
		for k, v := range b.InvokerEnv {
			env[k] = v
		}
	}

	keepPatterns := append(append([]string(nil), b.Policy.EnvKeep...), opts.PreserveEnv...)
	for k, v := range b.InvokerEnv {
		if matchesAny(keepPatterns, k) {
			env[k] = v
			continue
		}
		if matchesAny(b.Policy.EnvCheck, k) && isSafeValue(k, v, b.ZoneinfoDir) {
			env[k] = v
		}
	}

	for k, v := range env {
		if strings.HasPrefix(v, "()") {
			delete(env, k)
		}
	}

	for k, v := range b.PAMEnv {
		if _, already := env[k]; !already {
			env[k] = v
		}
	}

	cmd := opts.Command
	if len(opts.CommandArgs) > 0 {
		cmd = cmd + " " + strings.Join(opts.CommandArgs, " ")
	}
	env["SUDO_COMMAND"] = truncate(cmd, pathMax)
	env["SUDO_UID"] = fmt.Sprintf("%d", b.Invoker.UID)
	env["SUDO_GID"] = fmt.Sprintf("%d", b.Invoker.GID)
	env["SUDO_USER"] = b.Invoker.Name

	env["HOME"] = b.Target.Home
	env["SHELL"] = b.Target.Shell
	env["MAIL"] = "/var/mail/" + b.Target.Name

	preservedLogname := matchesAny(keepPatterns, "LOGNAME") || matchesAny(keepPatterns, "USER")
	if !preservedLogname {
		env["LOGNAME"] = b.Target.Name
		env["USER"] = b.Target.Name
	} else {
		mirrorPreservedPair(env, "LOGNAME", "USER")
	}

	if _, ok := env["PATH"]; !ok {
		if b.Policy.SecurePath != "" {
			env["PATH"] = b.Policy.SecurePath
		} else {
			env["PATH"] = b.Policy.DefaultPath
		}
	}
	if _, ok := env["TERM"]; !ok {
		env["TERM"] = "unknown"
	}

	if opts.LoginShell {
		env["SHELL"] = b.Target.Shell
		env["HOME"] = b.Target.Home
		env["USER"] = b.Target.Name
		env["LOGNAME"] = b.Target.Name
		if b.Policy.SecurePath != "" {
			env["PATH"] = b.Policy.SecurePath
		} else {
			env["PATH"] = b.Policy.DefaultPath
		}
	}

	return toSortedPairs(env)
}

// mirrorPreservedPair implements "if one of the pair is preserved,
// the other mirrors it": only one of LOGNAME/USER needs to have
// survived env_keep for both to end up set to the same value.
func mirrorPreservedPair(env map[string]string, a, b string) {
	if v, ok := env[a]; ok {
		env[b] = v
		return
	}
	if v, ok := env[b]; ok {
		env[a] = v
	}
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if matchPattern(p, name) {
			return true
		}
	}
	return false
}

// matchPattern matches environment variable names with path.Match
// glob semantics, not the wildcard matcher the policy uses for command
// paths; env_keep entries are typically literal names but may use
// '*'/'?' wildcards.
func matchPattern(pattern, name string) bool {
	if pattern == name {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}

func isSafeValue(key, value, zoneinfoDir string) bool {
	if key == "TZ" {
		return isSafeTZ(value, zoneinfoDir)
	}
	return !strings.ContainsAny(value, "%/")
}

func isSafeTZ(value, zoneinfoDir string) bool {
	if len(value) >= pathMax {
		return false
	}
	if strings.Contains(value, "..") {
		return false
	}
	for _, r := range value {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	if strings.HasPrefix(value, "/") {
		if zoneinfoDir == "" {
			return false
		}
		return strings.HasPrefix(value, zoneinfoDir)
	}
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func toSortedPairs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	// simple insertion sort: the environment is small and this keeps
	// the package free of a sort import for a one-off use.
	for i := 1; i < len(keys); i++ {
		j := i
		for j > 0 && keys[j-1] > keys[j] {
			keys[j-1], keys[j] = keys[j], keys[j-1]
			j--
		}
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + env[k]
	}
	return out
}
