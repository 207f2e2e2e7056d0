package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/lumen/common"
	"github.com/Carmen-Shannon/lumen/engine/logger"
	"github.com/Carmen-Shannon/lumen/engine/renderer/orchestrator"
	"github.com/fsnotify/fsnotify"
)

// ErrClosed is returned by a Library after Close.
var ErrClosed = errors.New("asset library closed")

// entry is one tracked image file.
type entry struct {
	handle common.TextureHandle
	linear bool
	// size of the first successful decode, zero until then. Reloads are scaled to it so the
	// GPU image keeps its dimensions.
	width, height int
}

// library is the implementation of Library.
type library struct {
	mu      sync.Mutex
	entries map[string]*entry
	pending []orchestrator.TextureUpload
	retired []common.TextureHandle
	// handles whose first upload has been drained
	drained map[common.TextureHandle]bool
	closed  bool

	workers     int
	maxSize     int
	debounce    time.Duration
	idleTimeout time.Duration

	pool     worker.DynamicWorkerPool
	busy     int
	idle     *sync.Cond
	nextTask int

	watcher *fsnotify.Watcher
	timers  map[string]*time.Timer
	done    chan struct{}
	stopped chan struct{}
}

// Library decodes image files on a worker pool and hands the results to the renderer as texture
// uploads. Handles are assigned when a file is first loaded and stay stable across reloads, so a
// scene can reference a texture before its pixels arrive. Until then it draws flat.
//
// All methods are safe for concurrent use.
type Library interface {
	// Load queues path for decoding as sRGB colour. Loading a tracked path returns its handle
	// without decoding it again.
	//
	// Parameters:
	//   - path: the image file
	//
	// Returns:
	//   - common.TextureHandle: the texture the file will be uploaded as
	//   - error: an error if the file does not exist, is not an image, or the library is closed
	Load(path string) (common.TextureHandle, error)

	// LoadLinear is Load for linear data such as normal maps.
	//
	// Parameters:
	//   - path: the image file
	//
	// Returns:
	//   - common.TextureHandle: the texture the file will be uploaded as
	//   - error: an error if the file does not exist, is not an image, or the library is closed
	LoadLinear(path string) (common.TextureHandle, error)

	// LoadDir loads every image file under dir.
	//
	// Parameters:
	//   - dir: the directory to walk
	//
	// Returns:
	//   - map[string]common.TextureHandle: handles keyed by path relative to dir, with forward slashes
	//   - error: an error if the walk fails
	LoadDir(dir string) (map[string]common.TextureHandle, error)

	// Handle returns the texture of a tracked path.
	//
	// Parameters:
	//   - path: the image file
	//
	// Returns:
	//   - common.TextureHandle: the texture
	//   - bool: false if the path is not tracked
	Handle(path string) (common.TextureHandle, bool)

	// Unload stops tracking path and retires its texture.
	//
	// Parameters:
	//   - path: the image file
	//
	// Returns:
	//   - bool: false if the path was not tracked
	Unload(path string) bool

	// Watch re-decodes tracked files under dir whenever they change on disk. Subdirectories,
	// including ones created later, are watched too.
	//
	// Parameters:
	//   - dir: the directory to watch
	//
	// Returns:
	//   - error: an error if the watcher cannot be created or dir cannot be walked
	Watch(dir string) error

	// Wait blocks until every queued decode has finished.
	Wait()

	// Drain returns and clears the uploads and retirements accumulated since the last call.
	//
	// Returns:
	//   - []orchestrator.TextureUpload: decoded images in completion order
	//   - []common.TextureHandle: textures released by Unload
	Drain() ([]orchestrator.TextureUpload, []common.TextureHandle)

	// Close stops watching, waits for queued decodes and stops the worker pool.
	//
	// Returns:
	//   - error: an error if the watcher fails to close
	Close() error
}

var _ Library = &library{}

// NewLibrary creates a Library with the given options.
//
// Parameters:
//   - options: functional options to configure the library
//
// Returns:
//   - Library: the library
func NewLibrary(options ...LibraryBuilderOption) Library {
	l := &library{
		entries:     make(map[string]*entry),
		drained:     make(map[common.TextureHandle]bool),
		timers:      make(map[string]*time.Timer),
		workers:     4,
		debounce:    50 * time.Millisecond,
		idleTimeout: time.Second,
	}
	l.idle = sync.NewCond(&l.mu)
	for _, opt := range options {
		opt(l)
	}
	l.pool = worker.NewDynamicWorkerPool(max(1, l.workers), 256, l.idleTimeout)
	return l
}

func (l *library) Load(path string) (common.TextureHandle, error) {
	return l.load(path, false)
}

func (l *library) LoadLinear(path string) (common.TextureHandle, error) {
	return l.load(path, true)
}

func (l *library) load(path string, linear bool) (common.TextureHandle, error) {
	if !IsImageFile(path) {
		return common.TextureHandle{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFile)
	}
	key, err := filepath.Abs(path)
	if err != nil {
		return common.TextureHandle{}, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if _, err := os.Stat(key); err != nil {
		return common.TextureHandle{}, fmt.Errorf("failed to load %s: %w", path, err)
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return common.TextureHandle{}, ErrClosed
	}
	if e, ok := l.entries[key]; ok {
		l.mu.Unlock()
		return e.handle, nil
	}
	e := &entry{handle: common.NewTextureHandle(), linear: linear}
	l.entries[key] = e
	task := l.task(key)
	l.mu.Unlock()

	l.pool.SubmitTask(task)
	logger.Debug("[Assets] loading %s as %v", path, e.handle)
	return e.handle, nil
}

func (l *library) LoadDir(dir string) (map[string]common.TextureHandle, error) {
	handles := make(map[string]common.TextureHandle)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImageFile(path) {
			return nil
		}
		h, err := l.Load(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		handles[filepath.ToSlash(rel)] = h
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", dir, err)
	}
	logger.Info("[Assets] loading %d images from %s", len(handles), dir)
	return handles, nil
}

func (l *library) Handle(path string) (common.TextureHandle, bool) {
	key, err := filepath.Abs(path)
	if err != nil {
		return common.TextureHandle{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return common.TextureHandle{}, false
	}
	return e.handle, true
}

func (l *library) Unload(path string) bool {
	key, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return false
	}
	delete(l.entries, key)
	if t, ok := l.timers[key]; ok {
		t.Stop()
		delete(l.timers, key)
	}
	// a decode still in flight is dropped when it finds no entry
	if l.drained[e.handle] {
		delete(l.drained, e.handle)
		l.retired = append(l.retired, e.handle)
		return true
	}
	l.pending = slices.DeleteFunc(l.pending, func(u orchestrator.TextureUpload) bool {
		return u.Image.Handle == e.handle
	})
	return true
}

func (l *library) Wait() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.busy > 0 {
		l.idle.Wait()
	}
}

func (l *library) Drain() ([]orchestrator.TextureUpload, []common.TextureHandle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	uploads, retired := l.pending, l.retired
	for _, u := range uploads {
		l.drained[u.Image.Handle] = true
	}
	l.pending, l.retired = nil, nil
	return uploads, retired
}

func (l *library) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for key, t := range l.timers {
		t.Stop()
		delete(l.timers, key)
	}
	w := l.watcher
	l.mu.Unlock()

	var err error
	if w != nil {
		close(l.done)
		<-l.stopped
		err = w.Close()
	}
	l.Wait()
	l.pool.Stop()
	return err
}

// task counts a decode of key as in flight and returns the pool task that runs it. Callers hold mu
// and submit the task after releasing it, since a full pool queue blocks until workers that need
// mu drain it.
func (l *library) task(key string) worker.Task {
	l.nextTask++
	l.busy++
	return worker.Task{
		ID: l.nextTask,
		Do: func() (any, error) {
			err := l.decode(key)
			if err != nil {
				logger.Warn("[Assets] %v", err)
			}
			l.mu.Lock()
			l.busy--
			if l.busy == 0 {
				l.idle.Broadcast()
			}
			l.mu.Unlock()
			return nil, err
		},
	}
}

// decode reads key and queues its upload under the entry's handle.
func (l *library) decode(key string) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	opts := DecodeOptions{Linear: e.linear, MaxSize: l.maxSize, Width: e.width, Height: e.height}
	l.mu.Unlock()

	f, err := os.Open(key)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", key, err)
	}
	defer f.Close()
	img, err := Decode(f, opts)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// the entry may have been unloaded, or unloaded and loaded again, while decoding
	if cur, ok := l.entries[key]; !ok || cur != e {
		return nil
	}
	if e.width == 0 {
		e.width, e.height = int(img.Width), int(img.Height)
	}
	img.Handle = e.handle
	l.pending = append(l.pending, orchestrator.TextureUpload{Image: img})
	logger.Debug("[Assets] decoded %s %s %dx%d %v", imageExtensions[strings.ToLower(filepath.Ext(key))], key, img.Width, img.Height, img.Format)
	return nil
}

func (l *library) Watch(dir string) error {
	root, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.watcher == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create file watcher: %w", err)
		}
		l.watcher = w
		l.done = make(chan struct{})
		l.stopped = make(chan struct{})
		go l.watch()
	}
	if err := watchRecursive(l.watcher, root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Info("[Assets] watching %s for changes", dir)
	return nil
}

// watch runs until Close, turning file events into debounced reloads.
func (l *library) watch() {
	defer close(l.stopped)
	for {
		select {
		case e, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if e.Has(fsnotify.Create) {
				if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
					if err := watchRecursive(l.watcher, e.Name); err != nil {
						logger.Warn("[Assets] failed to watch new directory %s: %v", e.Name, err)
					}
					continue
				}
			}
			if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
				l.changed(e.Name)
			}

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("[Assets] file watcher: %v", err)

		case <-l.done:
			return
		}
	}
}

// changed schedules a reload of a tracked file once it has been quiet for the debounce period,
// so a save that arrives as several writes decodes once.
func (l *library) changed(name string) {
	key, err := filepath.Abs(name)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[key]; !ok || l.closed {
		return
	}
	if t, ok := l.timers[key]; ok {
		t.Reset(l.debounce)
		return
	}
	l.timers[key] = time.AfterFunc(l.debounce, func() {
		l.mu.Lock()
		delete(l.timers, key)
		if _, ok := l.entries[key]; !ok || l.closed {
			l.mu.Unlock()
			return
		}
		task := l.task(key)
		l.mu.Unlock()

		logger.Info("[Assets] reloading %s", key)
		l.pool.SubmitTask(task)
	})
}

// watchRecursive adds dir and every directory below it to w.
func watchRecursive(w *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		return w.Add(path)
	})
}
