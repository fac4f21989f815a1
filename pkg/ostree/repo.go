package ostree

import (
	stderrors "errors"
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Mode is the repository storage mode recorded in the repository config.
type Mode string

const (
	ModeArchive   Mode = "archive-z2"
	ModeBareUser  Mode = "bare-user"
	ModeBare      Mode = "bare"
	configFile         = "config"
	summaryFile        = "summary"
	refsHeadsDir       = "refs/heads"
)

// Repo is a working copy of an OSTree repository on a billy filesystem. The
// handle is explicitly opened and carries no global state.
// Reads and writes through the handle are safe for concurrent use.
type Repo struct {
	fs   billy.Filesystem
	mu   sync.RWMutex
	conf *ini.File
}

// Create initializes an empty repository in fs.
func Create(fs billy.Filesystem, mode Mode) (*Repo, error) {
	for _, dir := range []string{"objects", refsHeadsDir, "tmp", "state"} {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create repo: mkdir %s", dir)
		}
	}
	conf := newKeyfile()
	core := conf.Section("core")
	core.Key("repo_version").SetValue("1")
	core.Key("mode").SetValue(string(mode))
	r := &Repo{fs: fs, conf: conf}
	if err := r.writeConfig(); err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens an existing repository. A repository without a config file is
// accepted and treated as an archive repository, which is how partial
// repositories usually arrive in tarballs.
func Open(fs billy.Filesystem) (*Repo, error) {
	data, err := util.ReadFile(fs, configFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		conf := newKeyfile()
		conf.Section("core").Key("mode").SetValue(string(ModeArchive))
		return &Repo{fs: fs, conf: conf}, nil
	case err != nil:
		return nil, errors.Wrap(err, "open repo: read config")
	}
	conf, err := parseKeyfile(data)
	if err != nil {
		return nil, errors.Wrap(err, "open repo: parse config")
	}
	return &Repo{fs: fs, conf: conf}, nil
}

// OpenOrCreate opens the repository in fs, creating an archive repository if
// none exists yet.
func OpenOrCreate(fs billy.Filesystem) (*Repo, error) {
	if _, err := fs.Stat(configFile); err == nil {
		return Open(fs)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "stat config")
	}
	return Create(fs, ModeArchive)
}

// FS returns the filesystem backing the repository.
func (r *Repo) FS() billy.Filesystem { return r.fs }

// Mode reports the configured storage mode.
func (r *Repo) Mode() Mode {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Mode(keyfileValue(r.conf, "core", "mode"))
}

// Remote is a configured remote section.
type Remote struct {
	Name             string
	URL              string
	VerifySignatures bool
}

// AddRemote records (or replaces) a remote definition in the repository
// config.
func (r *Repo) AddRemote(name, url string, verifySignatures bool) error {
	name = strings.TrimSpace(name)
	url = strings.TrimSpace(url)
	if name == "" || url == "" {
		return errors.New("add remote: name and url are required")
	}
	r.mu.Lock()
	s := r.conf.Section(remoteSection(name))
	s.Key("url").SetValue(url)
	s.Key("gpg-verify").SetValue(boolString(verifySignatures))
	s.Key("sign-verify").SetValue(boolString(verifySignatures))
	r.mu.Unlock()
	return r.writeConfig()
}

// Remote returns the named remote.
func (r *Repo) Remote(name string) (Remote, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	section := remoteSection(name)
	url := keyfileValue(r.conf, section, "url")
	if url == "" {
		return Remote{}, false
	}
	return Remote{
		Name:             name,
		URL:              url,
		VerifySignatures: keyfileValue(r.conf, section, "gpg-verify") == "true",
	}, true
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func remoteSection(name string) string { return `remote "` + name + `"` }

func (r *Repo) writeConfig() error {
	r.mu.RLock()
	data, err := marshalKeyfile(r.conf)
	r.mu.RUnlock()
	if err != nil {
		return errors.Wrap(err, "write config")
	}
	return r.WriteFile(configFile, data)
}

// ListRefs returns every branch under refs/heads mapped to its head
// checksum.
func (r *Repo) ListRefs() (map[string]Checksum, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make(map[string]Checksum)
	err := util.Walk(r.fs, refsHeadsDir, func(p string, info fs.FileInfo, walkErr error) error {
		if walkErr != nil {
			if p == refsHeadsDir && errors.Is(walkErr, os.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		data, err := util.ReadFile(r.fs, p)
		if err != nil {
			return err
		}
		name := strings.TrimPrefix(path.Clean(p), refsHeadsDir+"/")
		c := Checksum(strings.TrimSpace(string(data)))
		if err := ValidateChecksum(c); err != nil {
			return errors.Wrapf(err, "ref %q", name)
		}
		refs[name] = c
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "list refs")
	}
	return refs, nil
}

// WriteRef points the named branch at c.
func (r *Repo) WriteRef(name string, c Checksum) error {
	if err := ValidateChecksum(c); err != nil {
		return errors.Wrapf(err, "write ref %q", name)
	}
	return r.WriteFile(RefPath(name), []byte(string(c)+"\n"))
}

// HasObject reports whether the object is present locally.
func (r *Repo) HasObject(c Checksum, kind ObjectKind) bool {
	p, ok := LooseObjectPath(c, kind)
	if !ok {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, err := r.fs.Stat(p)
	return err == nil
}

// ReadObject returns the raw bytes of a loose object. A missing object
// yields an error wrapping ErrObjectNotFound.
func (r *Repo) ReadObject(c Checksum, kind ObjectKind) ([]byte, error) {
	p, ok := LooseObjectPath(c, kind)
	if !ok {
		return nil, errors.Errorf("read object %s: unsupported kind %q", c, kind)
	}
	return r.ReadFile(p)
}

// WriteObject stores raw object bytes under their loose object path.
func (r *Repo) WriteObject(c Checksum, kind ObjectKind, data []byte) error {
	if err := ValidateChecksum(c); err != nil {
		return err
	}
	p, ok := LooseObjectPath(c, kind)
	if !ok {
		return errors.Errorf("write object %s: unsupported kind %q", c, kind)
	}
	return r.WriteFile(p, data)
}

// LoadCommit reads and decodes a commit object.
func (r *Repo) LoadCommit(c Checksum) (*Commit, error) {
	data, err := r.ReadObject(c, KindCommit)
	if err != nil {
		return nil, err
	}
	commit, err := UnmarshalCommit(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load commit %s", c)
	}
	return commit, nil
}

// LoadDirTree reads and decodes a dirtree object.
func (r *Repo) LoadDirTree(c Checksum) (*DirTree, error) {
	data, err := r.ReadObject(c, KindDirTree)
	if err != nil {
		return nil, err
	}
	tree, err := UnmarshalDirTree(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load dirtree %s", c)
	}
	return tree, nil
}

// ReadFile reads a repository-relative file.
func (r *Repo) ReadFile(name string) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	data, err := util.ReadFile(r.fs, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = stderrors.Join(err, ErrObjectNotFound)
		}
		return nil, errors.Wrapf(err, "read %s", name)
	}
	return data, nil
}

// WriteFile atomically writes a repository-relative file: data goes to a
// temp file in the destination directory which is then renamed into place.
func (r *Repo) WriteFile(name string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dir := path.Dir(name)
	if err := r.fs.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "write %s: mkdir", name)
	}
	tmp, err := r.fs.TempFile(dir, ".tmp-")
	if err != nil {
		return errors.Wrapf(err, "write %s: tmpfile", name)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		r.fs.Remove(tmpName)
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		r.fs.Remove(tmpName)
		return errors.Wrapf(err, "write %s: close", name)
	}
	if err := r.fs.Rename(tmpName, name); err != nil {
		r.fs.Remove(tmpName)
		return errors.Wrapf(err, "write %s: rename", name)
	}
	return nil
}

// ReadSummary decodes the repository summary file.
func (r *Repo) ReadSummary() (*Summary, error) {
	data, err := r.ReadFile(summaryFile)
	if err != nil {
		return nil, err
	}
	return UnmarshalSummary(data)
}

// WriteSummary regenerates the summary file from the current refs.
func (r *Repo) WriteSummary() error {
	refs, err := r.ListRefs()
	if err != nil {
		return err
	}
	s := &Summary{}
	for name, c := range refs {
		size := uint64(0)
		if data, err := r.ReadObject(c, KindCommit); err == nil {
			size = uint64(len(data))
		}
		s.Refs = append(s.Refs, SummaryRef{Name: name, Size: size, Checksum: c})
	}
	return r.WriteFile(summaryFile, MarshalSummary(s))
}

