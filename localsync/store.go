package localsync

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// KV is a shared key-value store readable by every execution context on the
// same device. Watch delivers the new value whenever the key is written by
// any context; the notification mechanism is up to the implementation.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
	Delete(key string) error
	Watch(ctx context.Context, key string) (<-chan []byte, error)
}

// MemStore is an in-process KV, used by tests and single-process setups.
type MemStore struct {
	mx       sync.Mutex
	data     map[string][]byte
	watchers map[string][]chan []byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		data:     make(map[string][]byte),
		watchers: make(map[string][]chan []byte),
	}
}

func (m *MemStore) Get(key string) ([]byte, bool, error) {
	m.mx.Lock()
	defer m.mx.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MemStore) Put(key string, value []byte) error {
	cp := make([]byte, len(value))
	copy(cp, value)

	m.mx.Lock()
	m.data[key] = cp
	watchers := append([]chan []byte(nil), m.watchers[key]...)
	m.mx.Unlock()

	for _, ch := range watchers {
		select {
		case ch <- cp:
		default:
		}
	}
	return nil
}

func (m *MemStore) Delete(key string) error {
	m.mx.Lock()
	defer m.mx.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	ch := make(chan []byte, 16)

	m.mx.Lock()
	m.watchers[key] = append(m.watchers[key], ch)
	m.mx.Unlock()

	go func() {
		<-ctx.Done()
		m.mx.Lock()
		list := m.watchers[key]
		for i, c := range list {
			if c == ch {
				m.watchers[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		m.mx.Unlock()
	}()
	return ch, nil
}

// FileStore keeps one JSON file per key inside a shared directory and uses
// fsnotify to detect writes made by other processes.
type FileStore struct {
	dir    string
	logger zerolog.Logger
}

func NewFileStore(dir string, logger *zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	fs := &FileStore{dir: dir, logger: zerolog.Nop()}
	if logger != nil {
		fs.logger = logger.With().Str("component", "file-store").Logger()
	}
	return fs, nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, sanitizeKey(key)+".json")
}

func (f *FileStore) Get(key string) ([]byte, bool, error) {
	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

// Put writes atomically via rename so watchers never observe a half-written
// value.
func (f *FileStore) Put(key string, value []byte) error {
	target := f.path(key)
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(value); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (f *FileStore) Delete(key string) error {
	err := os.Remove(f.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileStore) Watch(ctx context.Context, key string) (<-chan []byte, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err = watcher.Add(f.dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	target := f.path(key)
	ch := make(chan []byte, 16)

	go func() {
		defer func() {
			_ = watcher.Close()
			close(ch)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				b, readErr := os.ReadFile(target)
				if readErr != nil {
					continue
				}
				select {
				case ch <- b:
				default:
				}
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger.Warn().Err(watchErr).Msg("file watch error")
			}
		}
	}()
	return ch, nil
}

func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, key)
}
