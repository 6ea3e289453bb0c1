// Local scheme factory: file:// URLs resolved against the host
// filesystem. Directory change notification is built on fsnotify,
// generalising the debounce/event-loop shape of the teacher's
// internal/watcher/watcher.go into the FileSystemFactory.Start contract.
package fs

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/mrl"
)

type localDirectory struct {
	mrl     string
	path    string
	cached  []Entry
	hasRead bool
}

func (d *localDirectory) MRL() string { return d.mrl }

func (d *localDirectory) Entries() ([]Entry, error) {
	if d.hasRead {
		return d.cached, nil
	}
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mlerrors.NewSystemError(2, "no such file or directory", err)
		}
		return nil, mlerrors.NewSystemError(1, err.Error(), err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size(), ModTime: info.ModTime()})
	}
	d.cached = out
	d.hasRead = true
	return out, nil
}

type localFile struct {
	mrl  string
	path string
}

func (f *localFile) MRL() string { return f.mrl }

func (f *localFile) Size() (int64, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0, mlerrors.NewSystemError(2, err.Error(), err)
	}
	return info.Size(), nil
}

func (f *localFile) ModTime() (time.Time, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return time.Time{}, mlerrors.NewSystemError(2, err.Error(), err)
	}
	return info.ModTime(), nil
}

// LocalFactory implements FileSystemFactory for file:// MRLs. It treats
// the local filesystem as a single always-present, non-removable,
// non-network device rooted at "/".
type LocalFactory struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	cb       DeviceCallback
	mu       sync.Mutex
	watched  map[string]bool
	debounce map[string]*time.Timer
	stop     chan struct{}
}

const LocalDeviceUUID = "local-root"

func NewLocalFactory(registry *Registry) *LocalFactory {
	return &LocalFactory{
		registry: registry,
		watched:  make(map[string]bool),
		debounce: make(map[string]*time.Timer),
	}
}

func (f *LocalFactory) Scheme() string { return "file" }

func mrlToPath(mrlStr string) (string, error) {
	scheme, _, _, p, err := mrl.Decode(mrlStr)
	if err != nil {
		return "", err
	}
	if scheme != "file" {
		return "", mlerrors.ErrUnhandledScheme
	}
	// Windows drive-letter segment: "/C:/Users/..." -> "C:/Users/...".
	if len(p) >= 3 && p[0] == '/' && p[2] == ':' {
		p = p[1:]
	}
	return filepath.FromSlash(p), nil
}

func (f *LocalFactory) Directory(mrlStr string) (Directory, error) {
	p, err := mrlToPath(mrlStr)
	if err != nil {
		return nil, err
	}
	return &localDirectory{mrl: mrlStr, path: p}, nil
}

func (f *LocalFactory) File(mrlStr string) (File, error) {
	p, err := mrlToPath(mrlStr)
	if err != nil {
		return nil, err
	}
	return &localFile{mrl: mrlStr, path: p}, nil
}

func (f *LocalFactory) Device(uuid string) (DeviceHandle, bool) {
	if uuid != LocalDeviceUUID {
		return DeviceHandle{}, false
	}
	return DeviceHandle{UUID: LocalDeviceUUID, Present: true}, true
}

func (f *LocalFactory) DeviceFromMRL(mrlStr string) (DeviceHandle, string, bool) {
	return DeviceHandle{UUID: LocalDeviceUUID, Present: true}, mrl.EncodeLocal("/"), true
}

func (f *LocalFactory) RefreshDevices() error { return nil }

func (f *LocalFactory) Start(cb DeviceCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	f.watcher = w
	f.cb = cb
	f.stop = make(chan struct{})
	go f.eventLoop()
	cb.OnDeviceMounted(LocalDeviceUUID, mrl.EncodeLocal("/"), false)
	return nil
}

func (f *LocalFactory) Stop() {
	if f.watcher != nil {
		close(f.stop)
		f.watcher.Close()
	}
}

// WatchRoot recursively adds root and its subdirectories to the
// fsnotify watch set, mirroring addRecursive in internal/watcher/watcher.go.
func (f *LocalFactory) WatchRoot(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			f.mu.Lock()
			if !f.watched[path] {
				if err := f.watcher.Add(path); err == nil {
					f.watched[path] = true
				}
			}
			f.mu.Unlock()
		}
		return nil
	})
}

func (f *LocalFactory) eventLoop() {
	for {
		select {
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			f.handleEvent(event)
		case _, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
		case <-f.stop:
			return
		}
	}
}

// handleEvent debounces bursts of rapid filesystem events (editors that
// write-then-rename) before reporting, exactly as
// internal/watcher/watcher.go's 1-second debounce window.
func (f *LocalFactory) handleEvent(event fsnotify.Event) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part") {
		return
	}

	f.mu.Lock()
	if timer, ok := f.debounce[event.Name]; ok {
		timer.Stop()
	}
	name := event.Name
	f.debounce[name] = time.AfterFunc(time.Second, func() {
		f.mu.Lock()
		delete(f.debounce, name)
		f.mu.Unlock()
		// A directory-local change is reported as a remount of the
		// single local device; the DW's ReloadDevice handling takes it
		// from there (§4.4).
		if f.cb != nil {
			f.cb.OnDeviceMounted(LocalDeviceUUID, mrl.EncodeLocal("/"), false)
		}
	})
	f.mu.Unlock()
}
