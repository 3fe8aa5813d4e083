package sudoers

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// FileReader abstracts filesystem access so tests can load policy
// text without touching disk.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
	Lstat(path string) (fs.FileInfo, error)
	ReadDir(path string) ([]fs.DirEntry, error)
}

type osFileReader struct{}

func (osFileReader) ReadFile(path string) ([]byte, error)        { return os.ReadFile(path) }
func (osFileReader) Lstat(path string) (fs.FileInfo, error)      { return os.Lstat(path) }
func (osFileReader) ReadDir(path string) ([]fs.DirEntry, error)  { return os.ReadDir(path) }

// Store is the fully loaded, alias-resolved policy: every directive
// from the root file and its transitive includes, plus the
// diagnostics accumulated while loading.
type Store struct {
	Directives  []Directive
	Diagnostics []Diagnostic
	Aliases     *aliasTables
}

// Load parses path and every file it transitively includes, verifying
// ownership/permissions on each before trusting its contents, and
// returns a Store whose alias tables are fully closed.
func Load(path string, r FileReader, log zerolog.Logger) (*Store, error) {
	if r == nil {
		r = osFileReader{}
	}
	s := &Store{Aliases: newAliasTables()}
	l := &loader{reader: r, log: log, store: s, visiting: map[string]bool{}}
	if err := l.loadFile(path, 0); err != nil {
		return nil, err
	}
	if err := s.Aliases.Users.resolveAll(); err != nil {
		return nil, fmt.Errorf("resolving user aliases: %w", err)
	}
	if err := s.Aliases.Hosts.resolveAll(); err != nil {
		return nil, fmt.Errorf("resolving host aliases: %w", err)
	}
	if err := s.Aliases.Runas.resolveAll(); err != nil {
		return nil, fmt.Errorf("resolving runas aliases: %w", err)
	}
	if err := s.Aliases.Cmnds.resolveAll(); err != nil {
		return nil, fmt.Errorf("resolving command aliases: %w", err)
	}
	s.expandDirectives()
	return s, nil
}

type loader struct {
	reader   FileReader
	log      zerolog.Logger
	store    *Store
	visiting map[string]bool
}

func (l *loader) loadFile(path string, depth int) error {
	if depth >= maxIncludeDepth {
		return fmt.Errorf("include depth exceeds maximum of %d at %s", maxIncludeDepth, path)
	}
	abs := path
	if !filepath.IsAbs(abs) {
		var err error
		abs, err = filepath.Abs(abs)
		if err != nil {
			return err
		}
	}
	if l.visiting[abs] {
		return fmt.Errorf("include cycle: %s is already on the include stack", abs)
	}

	if ok, reason := checkFileTrust(l.reader, abs); !ok {
		l.log.Warn().Str("path", abs).Str("reason", reason).Msg("skipping untrusted policy file")
		return nil
	}

	data, err := l.reader.ReadFile(abs)
	if err != nil {
		return fmt.Errorf("reading %s: %w", abs, err)
	}

	l.visiting[abs] = true
	defer delete(l.visiting, abs)

	dir := filepath.Dir(abs)
	for _, res := range ParseAll(abs, string(data)) {
		if res.Diag != nil {
			l.store.Diagnostics = append(l.store.Diagnostics, *res.Diag)
			continue
		}
		d := *res.Directive
		switch d.Kind {
		case DirInclude:
			if err := l.followInclude(d.Include, dir, depth); err != nil {
				l.store.Diagnostics = append(l.store.Diagnostics, errorAt(d.Include.Pos, "%s", err))
			}
		case DirAlias:
			table := l.store.Aliases.tableFor(d.Alias.Kind)
			if err := table.define(*d.Alias); err != nil {
				l.store.Diagnostics = append(l.store.Diagnostics, errorAt(d.Alias.Pos, "%s", err))
			}
		default:
			l.store.Directives = append(l.store.Directives, d)
		}
	}
	return nil
}

func (l *loader) followInclude(inc *IncludeDirective, baseDir string, depth int) error {
	target := inc.Path
	if !filepath.IsAbs(target) {
		target = filepath.Join(baseDir, target)
	}
	if inc.Kind == IncludeFile {
		return l.loadFile(target, depth+1)
	}

	if ok, reason := checkDirTrust(l.reader, target); !ok {
		l.log.Warn().Str("path", target).Str("reason", reason).Msg("skipping untrusted includedir")
		return nil
	}
	entries, err := l.reader.ReadDir(target)
	if err != nil {
		return fmt.Errorf("reading includedir %s: %w", target, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if name == "" || strings.Contains(name, ".") || strings.HasSuffix(name, "~") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := l.loadFile(filepath.Join(target, name), depth+1); err != nil {
			l.store.Diagnostics = append(l.store.Diagnostics, errorAt(inc.Pos, "%s", err))
		}
	}
	return nil
}

// checkFileTrust enforces the policy-file trust requirements: regular file, owned
// by uid 0, no group/other write bits.
func checkFileTrust(r FileReader, path string) (bool, string) {
	info, err := r.Lstat(path)
	if err != nil {
		return false, fmt.Sprintf("cannot stat: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return false, "refusing to follow a symlink"
	}
	if !info.Mode().IsRegular() {
		return false, "not a regular file"
	}
	if info.Mode().Perm()&0022 != 0 {
		return false, "group- or world-writable"
	}
	if !ownedByTrustedUID(info) {
		return false, "not owned by uid 0"
	}
	return true, ""
}

func checkDirTrust(r FileReader, path string) (bool, string) {
	info, err := r.Lstat(path)
	if err != nil {
		return false, fmt.Sprintf("cannot stat: %v", err)
	}
	if !info.IsDir() {
		return false, "not a directory"
	}
	if info.Mode().Perm()&0022 != 0 {
		return false, "group- or world-writable"
	}
	if !ownedByTrustedUID(info) {
		return false, "not owned by uid 0"
	}
	return true, ""
}
