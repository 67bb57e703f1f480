package credentials

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

var log = logger.GetGoI2PLogger()

const (
	credsFile = "creds.bin"
	metaFile  = "meta.yaml"
)

// DirStore keeps one directory per session code under root.
type DirStore struct {
	root string
	opts options
}

// NewDirStore creates root if needed.
func NewDirStore(root string, opts ...Option) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, oops.Wrapf(err, "failed to create credential directory %s", root)
	}
	return &DirStore{root: root, opts: buildOptions(opts)}, nil
}

// Root returns the base directory.
func (s *DirStore) Root() string { return s.root }

// Path returns the directory owned by code.
func (s *DirStore) Path(code string) string {
	return filepath.Join(s.root, code)
}

func (s *DirStore) Read(ctx context.Context, code string) ([]byte, bool, error) {
	if err := ValidateCode(code); err != nil {
		return nil, false, err
	}
	var (
		data  []byte
		found bool
	)
	err := bounded(ctx, func() error {
		raw, err := os.ReadFile(filepath.Join(s.Path(code), credsFile))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return oops.Wrapf(err, "failed to read credentials for %s", code)
		}
		if s.opts.sealer != nil {
			raw, err = s.opts.sealer.Open(code, raw)
			if err != nil {
				return err
			}
		}
		data, found = raw, true
		return nil
	})
	return data, found, err
}

// Write replaces the stored material atomically.
func (s *DirStore) Write(ctx context.Context, code string, data []byte) error {
	if err := ValidateCode(code); err != nil {
		return err
	}
	return settled(ctx, func() error {
		dir := s.Path(code)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return oops.Wrapf(err, "failed to create directory for %s", code)
		}

		payload := data
		if s.opts.sealer != nil {
			sealed, err := s.opts.sealer.Seal(code, data)
			if err != nil {
				return err
			}
			payload = sealed
		}
		if err := writeFileAtomic(filepath.Join(dir, credsFile), payload); err != nil {
			return oops.Wrapf(err, "failed to write credentials for %s", code)
		}

		meta, _, _ := s.readMeta(code)
		now := s.opts.now().UTC()
		if meta.CreatedAt.IsZero() {
			meta.CreatedAt = now
		}
		meta.Code = code
		meta.Size = len(data)
		meta.Sealed = s.opts.sealer != nil
		meta.UpdatedAt = now
		out, err := yaml.Marshal(meta)
		if err != nil {
			return oops.Wrapf(err, "failed to encode metadata for %s", code)
		}
		if err := writeFileAtomic(filepath.Join(dir, metaFile), out); err != nil {
			return oops.Wrapf(err, "failed to write metadata for %s", code)
		}

		log.WithFields(logger.Fields{
			"at":     "(DirStore) Write",
			"code":   code,
			"size":   len(data),
			"sealed": meta.Sealed,
		}).Debug("credentials stored")
		return nil
	})
}

// Remove deletes the code's directory. A missing directory is not an error.
func (s *DirStore) Remove(ctx context.Context, code string) error {
	if err := ValidateCode(code); err != nil {
		return err
	}
	return settled(ctx, func() error {
		if err := os.RemoveAll(s.Path(code)); err != nil {
			return oops.Wrapf(err, "failed to remove credentials for %s", code)
		}
		log.WithFields(logger.Fields{"at": "(DirStore) Remove", "code": code}).Debug("credentials removed")
		return nil
	})
}

// List returns every code that has stored material, sorted.
func (s *DirStore) List(ctx context.Context) ([]string, error) {
	var codes []string
	err := bounded(ctx, func() error {
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return oops.Wrapf(err, "failed to list %s", s.root)
		}
		for _, e := range entries {
			if !e.IsDir() || ValidateCode(e.Name()) != nil {
				continue
			}
			if _, err := os.Stat(filepath.Join(s.root, e.Name(), credsFile)); err == nil {
				codes = append(codes, e.Name())
			}
		}
		return nil
	})
	sort.Strings(codes)
	return codes, err
}

// Describe implements Describer from the meta.yaml sidecar.
func (s *DirStore) Describe(ctx context.Context, code string) (Meta, bool, error) {
	if err := ValidateCode(code); err != nil {
		return Meta{}, false, err
	}
	var (
		meta  Meta
		found bool
	)
	err := bounded(ctx, func() error {
		var err error
		meta, found, err = s.readMeta(code)
		return err
	})
	return meta, found, err
}

func (s *DirStore) readMeta(code string) (Meta, bool, error) {
	raw, err := os.ReadFile(filepath.Join(s.Path(code), metaFile))
	if os.IsNotExist(err) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, oops.Wrapf(err, "failed to read metadata for %s", code)
	}
	var meta Meta
	if err := yaml.Unmarshal(raw, &meta); err != nil {
		return Meta{}, false, oops.Wrapf(err, "invalid metadata for %s", code)
	}
	return meta, true, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
