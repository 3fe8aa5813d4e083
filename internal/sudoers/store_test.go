package sudoers

import (
	"io/fs"
	"syscall"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFile struct {
	name string
	data []byte
	mode fs.FileMode
	uid  uint32
	dir  bool
}

type fakeFS struct {
	files map[string]fakeFile
	dirs  map[string][]string
}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string]fakeFile{}, dirs: map[string][]string{}}
}

func (f *fakeFS) put(path, data string) {
	f.files[path] = fakeFile{name: path, data: []byte(data), mode: 0440, uid: 0}
}

func (f *fakeFS) putDir(path string, entries []string) {
	f.files[path] = fakeFile{name: path, mode: fs.ModeDir | 0550, uid: 0, dir: true}
	f.dirs[path] = entries
}

type fakeInfo struct{ f fakeFile }

func (i fakeInfo) Name() string       { return i.f.name }
func (i fakeInfo) Size() int64        { return int64(len(i.f.data)) }
func (i fakeInfo) Mode() fs.FileMode  { return i.f.mode }
func (i fakeInfo) ModTime() time.Time { return time.Time{} }
func (i fakeInfo) IsDir() bool        { return i.f.dir }
func (i fakeInfo) Sys() any           { return &syscall.Stat_t{Uid: i.f.uid} }

type fakeDirEntry struct{ name string }

func (e fakeDirEntry) Name() string               { return e.name }
func (e fakeDirEntry) IsDir() bool                { return false }
func (e fakeDirEntry) Type() fs.FileMode          { return 0 }
func (e fakeDirEntry) Info() (fs.FileInfo, error) { return nil, nil }

func (f *fakeFS) ReadFile(path string) ([]byte, error) {
	file, ok := f.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return file.data, nil
}

func (f *fakeFS) Lstat(path string) (fs.FileInfo, error) {
	file, ok := f.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return fakeInfo{f: file}, nil
}

func (f *fakeFS) ReadDir(path string) ([]fs.DirEntry, error) {
	names, ok := f.dirs[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	entries := make([]fs.DirEntry, len(names))
	for i, n := range names {
		entries[i] = fakeDirEntry{name: n}
	}
	return entries, nil
}

func TestLoadSimpleUserSpec(t *testing.T) {
	fsys := newFakeFS()
	fsys.put("/etc/sudoers", "alice ALL=(ALL) ALL\n")

	store, err := Load("/etc/sudoers", fsys, zerolog.Nop())
	require.NoError(t, err)
	require.Empty(t, store.Diagnostics)
	require.Len(t, store.Directives, 1)
	assert.Equal(t, "alice", store.Directives[0].UserSpec.Users[0].Name)
}

func TestLoadFollowsInclude(t *testing.T) {
	fsys := newFakeFS()
	fsys.put("/etc/sudoers", "@include /etc/sudoers.d/local\n")
	fsys.put("/etc/sudoers.d/local", "bob ALL=ALL\n")

	store, err := Load("/etc/sudoers", fsys, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, store.Directives, 1)
	assert.Equal(t, "bob", store.Directives[0].UserSpec.Users[0].Name)
}

func TestLoadFollowsIncludeDirInOrder(t *testing.T) {
	fsys := newFakeFS()
	fsys.put("/etc/sudoers", "@includedir /etc/sudoers.d\n")
	fsys.putDir("/etc/sudoers.d", []string{"10-b", "05-a", "README", "bad~"})
	fsys.put("/etc/sudoers.d/10-b", "second ALL=ALL\n")
	fsys.put("/etc/sudoers.d/05-a", "first ALL=ALL\n")

	store, err := Load("/etc/sudoers", fsys, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, store.Directives, 2)
	assert.Equal(t, "first", store.Directives[0].UserSpec.Users[0].Name)
	assert.Equal(t, "second", store.Directives[1].UserSpec.Users[0].Name)
}

func TestLoadSkipsUntrustedFile(t *testing.T) {
	fsys := newFakeFS()
	fsys.put("/etc/sudoers", "@include /etc/sudoers.d/bad\n")
	fsys.files["/etc/sudoers.d/bad"] = fakeFile{name: "bad", data: []byte("x ALL=ALL\n"), mode: 0666, uid: 0}

	store, err := Load("/etc/sudoers", fsys, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, store.Directives)
}

func TestLoadSkipsFileNotOwnedByRoot(t *testing.T) {
	fsys := newFakeFS()
	fsys.files["/etc/sudoers"] = fakeFile{name: "sudoers", data: []byte("x ALL=ALL\n"), mode: 0440, uid: 1000}

	store, err := Load("/etc/sudoers", fsys, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, store.Directives)
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	fsys := newFakeFS()
	fsys.put("/etc/sudoers", "@include /etc/sudoers.d/a\n")
	fsys.put("/etc/sudoers.d/a", "@include /etc/sudoers\n")

	_, err := Load("/etc/sudoers", fsys, zerolog.Nop())
	require.NoError(t, err) // cycle is reported as a diagnostic, not fatal
}

func TestAliasResolutionDetectsSelfReferenceCycle(t *testing.T) {
	fsys := newFakeFS()
	fsys.put("/etc/sudoers", "User_Alias A = B\nUser_Alias B = A\nA ALL=ALL\n")

	_, err := Load("/etc/sudoers", fsys, zerolog.Nop())
	require.Error(t, err)
}
