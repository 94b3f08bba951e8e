package weights

import (
	"context"
	"hash/adler32"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ManifestName is the file, inside a store directory, listing expected checksums.
const ManifestName = "manifest.yaml"

var (
	// ErrNotFound is returned when a weight file exists neither locally nor remotely.
	ErrNotFound = errors.New("weight file not found")
	// ErrChecksum is returned when a weight file does not match its manifest checksum.
	ErrChecksum = errors.New("weight file checksum mismatch")
)

// ManifestEntry records the expected Adler-32 checksum of one weight file.
type ManifestEntry struct {
	Adler32 uint32 `json:"adler32" yaml:"adler32"`
}

// Manifest maps weight file names to their expected checksums.
type Manifest struct {
	Files map[string]ManifestEntry `json:"files" yaml:"files"`
}

// Store resolves pretrained weight files from a local directory, fetching
// missing files from BaseURL when one is configured.
type Store struct {
	// Dir is the local cache directory.
	Dir string
	// BaseURL is the optional remote location files are fetched from.
	BaseURL string
	// Client performs downloads. Defaults to http.DefaultClient.
	Client *http.Client

	log *logrus.Entry
}

// NewStore creates a store rooted at dir.
//
// Arguments:
//   - dir: The local weight directory.
//   - baseURL: Remote base URL for downloads, or "" to stay offline.
//   - log: Logger; nil uses the standard logger.
//
// Returns:
//   - *Store: The store.
func NewStore(dir, baseURL string, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.StandardLogger().WithField("component", "weights")
	}
	return &Store{Dir: dir, BaseURL: baseURL, Client: http.DefaultClient, log: log}
}

// Resolve returns the local path of the named weight file, downloading it
// first if necessary, after verifying it against the manifest.
func (s *Store) Resolve(ctx context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) {
		return "", errors.Errorf("invalid weight file name %q", name)
	}
	path := filepath.Join(s.Dir, name)

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		if s.BaseURL == "" {
			return "", errors.Wrapf(ErrNotFound, "%s", path)
		}
		if err := s.download(ctx, name, path); err != nil {
			return "", err
		}
	}

	if err := s.verify(name, path); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) download(ctx context.Context, name, path string) error {
	u, err := url.JoinPath(s.BaseURL, name)
	if err != nil {
		return errors.Wrap(err, "build download url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	s.log.WithField("url", u).Info("downloading pretrained weights")
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "download %s", u)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.Wrapf(ErrNotFound, "%s", u)
	case resp.StatusCode != http.StatusOK:
		return errors.Errorf("download %s: unexpected status %s", u, resp.Status)
	}

	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.Dir, name+".partial-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "download %s", u)
	}
	s.log.WithFields(logrus.Fields{"file": name, "size": units.HumanSize(float64(n))}).Info("download complete")

	return os.Rename(tmp.Name(), path)
}

// verify checks path against the manifest entry for name, if any. A file
// that fails verification is removed so the next Resolve fetches it again.
func (s *Store) verify(name, path string) error {
	m, err := LoadManifest(s.Dir)
	if err != nil {
		return err
	}
	entry, ok := m.Files[name]
	if !ok {
		return nil
	}

	sum, err := Checksum(path)
	if err != nil {
		return err
	}
	if sum != entry.Adler32 {
		s.log.WithFields(logrus.Fields{"file": name, "want": entry.Adler32, "got": sum}).Warn("removing corrupt weight file")
		_ = os.Remove(path)
		return errors.Wrapf(ErrChecksum, "%s: want %d, got %d", name, entry.Adler32, sum)
	}
	return nil
}

// LoadManifest reads the manifest of dir. A missing manifest is empty.
func LoadManifest(dir string) (*Manifest, error) {
	m := &Manifest{Files: map[string]ManifestEntry{}}
	b, err := os.ReadFile(filepath.Join(dir, ManifestName))
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, m); err != nil {
		return nil, errors.Wrapf(err, "parse %s", ManifestName)
	}
	if m.Files == nil {
		m.Files = map[string]ManifestEntry{}
	}
	return m, nil
}

// WriteManifest writes m into dir.
func WriteManifest(dir string, m *Manifest) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, ManifestName), b, 0o644)
}

// Checksum returns the Adler-32 checksum of the file at path.
func Checksum(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := adler32.New()
	if _, err := io.Copy(h, f); err != nil {
		return 0, err
	}
	return h.Sum32(), nil
}
