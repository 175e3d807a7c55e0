package tokenstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const fileStoreMode = 0o600

var _ KeyValueStore = (*FileStore)(nil)

// FileStore persists values as a JSON object in a single file so they survive restarts.
// Writes go to a temp file that is renamed over the original.
type FileStore struct {
	path string
	lock sync.Mutex
	log  zerolog.Logger
}

type FileStoreOption func(*FileStore)

func WithFileStoreLogger(log zerolog.Logger) FileStoreOption {
	return func(f *FileStore) {
		f.log = log
	}
}

// NewFileStore creates the parent directory of path if needed.
func NewFileStore(path string, options ...FileStoreOption) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("[NewFileStore] path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "[NewFileStore] MkdirAll")
	}
	f := &FileStore{path: filepath.Clean(path), log: zerolog.Nop()}
	for _, opt := range options {
		opt(f)
	}
	return f, nil
}

// Path returns the backing file.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

func (f *FileStore) Set(_ context.Context, key, value string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	values[key] = value
	return f.write(values)
}

func (f *FileStore) Delete(_ context.Context, key string) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	values, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return nil
	}
	delete(values, key)
	if len(values) == 0 {
		if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(err, "FileStore.Delete Remove")
		}
		return nil
	}
	return f.write(values)
}

func (f *FileStore) read() (map[string]string, error) {
	values := make(map[string]string)
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return values, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "FileStore.read ReadFile")
	}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrap(err, "FileStore.read Unmarshal")
	}
	return values, nil
}

func (f *FileStore) write(values map[string]string) error {
	data, err := json.Marshal(values)
	if err != nil {
		return errors.Wrap(err, "FileStore.write Marshal")
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "FileStore.write CreateTemp")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "FileStore.write Write")
	}
	if err := tmp.Chmod(fileStoreMode); err != nil {
		tmp.Close()
		return errors.Wrap(err, "FileStore.write Chmod")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "FileStore.write Close")
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return errors.Wrap(err, "FileStore.write Rename")
	}
	return nil
}

// Watch calls onChange whenever the backing file is written, replaced or removed, including
// by another process. It returns once the watcher is running; the watch stops with ctx.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "FileStore.Watch NewWatcher")
	}
	// The directory is watched because the file itself is replaced on every write.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		watcher.Close()
		return errors.Wrap(err, "FileStore.Watch Add")
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != f.path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.log.Warn().Err(err).Str("path", f.path).Msg("token file watch error")
			}
		}
	}()
	return nil
}
