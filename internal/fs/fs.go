// Package fs is the pluggable filesystem abstraction of §4.1: a
// FileSystemFactory per scheme produces Directory/File/Device handles,
// and a DeviceLister reports mount/unmount events for that scheme.
package fs

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/mrl"
)

// Entry is a single directory child as reported by a Directory listing.
type Entry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Directory is a lazily-listed, per-instance-cached directory handle.
type Directory interface {
	MRL() string
	// Entries lists immediate children. Implementations cache the result
	// for the lifetime of the Directory value.
	Entries() ([]Entry, error)
}

// File is a single file handle.
type File interface {
	MRL() string
	Size() (int64, error)
	ModTime() (time.Time, error)
}

// DeviceHandle describes a device as seen through a factory.
type DeviceHandle struct {
	UUID      string
	Removable bool
	Network   bool
	Present   bool
}

// FileSystemFactory is the per-scheme entry point described in §4.1.
type FileSystemFactory interface {
	Scheme() string
	Directory(mrlStr string) (Directory, error)
	File(mrlStr string) (File, error)
	Device(uuid string) (DeviceHandle, bool)
	DeviceFromMRL(mrlStr string) (DeviceHandle, string, bool) // handle, matched mountpoint
	RefreshDevices() error
	Start(cb DeviceCallback) error
	Stop()
}

// DeviceCallback receives device presence transitions, fired from
// whichever goroutine the factory's lister uses internally (a network
// factory may discover devices continuously and call these
// asynchronously, per §4.1).
type DeviceCallback interface {
	OnDeviceMounted(uuid string, mountpoint string, removable bool)
	OnDeviceUnmounted(uuid string)
}

// ListedDevice is the authoritative tuple a DeviceLister reports.
type ListedDevice struct {
	UUID        string
	Mountpoints []string
	Removable   bool
}

// DeviceLister produces the authoritative list of devices for a scheme.
// It only lists; PollingLister diffs successive refreshes to emit
// add/remove callbacks.
type DeviceLister interface {
	List() ([]ListedDevice, error)
}

// Registry holds one FileSystemFactory per scheme and implements the
// longest-prefix-match mountpoint resolution used throughout the
// engine. It is the concrete type the orchestrator constructs; the DW,
// FSD and MA only ever see it through the FileSystemFactory interface
// for the scheme they already know they need.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FileSystemFactory
	// mountSeq assigns each mountpoint registration a strictly
	// increasing sequence number, the deterministic tiebreak for
	// same-length prefix matches (§9 Open Questions: "pick a
	// deterministic tiebreak, e.g. earliest addMountpoint order").
	mountSeq      int64
	registrations []mountRegistration
}

type mountRegistration struct {
	scheme     string
	uuid       string
	mountpoint string
	seq        int64
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FileSystemFactory)}
}

func (r *Registry) Register(f FileSystemFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[f.Scheme()] = f
}

func (r *Registry) Factory(scheme string) (FileSystemFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[scheme]
	if !ok {
		return nil, mlerrors.ErrUnknownScheme
	}
	return f, nil
}

// Directory resolves mrlStr's scheme and delegates.
func (r *Registry) Directory(mrlStr string) (Directory, error) {
	f, err := r.Factory(mrl.Scheme(mrlStr))
	if err != nil {
		return nil, err
	}
	return f.Directory(mrlStr)
}

// RegisterMountpoint records that `mountpoint` was seen for `uuid` under
// `scheme`, assigning it the next sequence number for tiebreaking.
func (r *Registry) RegisterMountpoint(scheme, uuid, mountpoint string) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mountSeq++
	r.registrations = append(r.registrations, mountRegistration{scheme, uuid, mountpoint, r.mountSeq})
	return r.mountSeq
}

// ResolveDevice finds the device whose mountpoint is the longest prefix
// of mrlStr, breaking ties by earliest registration order. It returns
// the matched uuid, the matched mountpoint and the remaining relative
// path under that mountpoint.
func (r *Registry) ResolveDevice(mrlStr string) (uuid, mountpoint, relative string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scheme := mrl.Scheme(mrlStr)
	best := -1
	var bestReg mountRegistration
	for _, reg := range r.registrations {
		if reg.scheme != scheme {
			continue
		}
		n := mrl.MatchesMountpoint(mrlStr, reg.mountpoint)
		if n < 0 {
			continue
		}
		if n > best || (n == best && reg.seq < bestReg.seq) {
			best = n
			bestReg = reg
		}
	}
	if best < 0 {
		return "", "", "", false
	}
	_, _, _, path, _ := mrl.Decode(mrlStr)
	_, _, _, mountPath, _ := mrl.Decode(bestReg.mountpoint)
	rel := strings.TrimPrefix(path, mountPath)
	rel = strings.TrimPrefix(rel, "/")
	return bestReg.uuid, bestReg.mountpoint, rel, true
}

// diffDevices computes which devices newly appeared and which newly
// disappeared between two List() snapshots, keyed by UUID.
func diffDevices(prev, cur []ListedDevice) (added, removed []ListedDevice) {
	prevByUUID := make(map[string]ListedDevice, len(prev))
	for _, d := range prev {
		prevByUUID[d.UUID] = d
	}
	curByUUID := make(map[string]ListedDevice, len(cur))
	for _, d := range cur {
		curByUUID[d.UUID] = d
	}
	for u, d := range curByUUID {
		if _, ok := prevByUUID[u]; !ok {
			added = append(added, d)
		}
	}
	for u, d := range prevByUUID {
		if _, ok := curByUUID[u]; !ok {
			removed = append(removed, d)
		}
	}
	sort.Slice(added, func(i, j int) bool { return added[i].UUID < added[j].UUID })
	sort.Slice(removed, func(i, j int) bool { return removed[i].UUID < removed[j].UUID })
	return added, removed
}

// PollingLister wraps a DeviceLister and calls Refresh periodically,
// diffing snapshots and invoking the callback for adds/removes. This is
// the shape a network factory uses to "discover devices continuously"
// per §4.1.
type PollingLister struct {
	lister DeviceLister
	cb     DeviceCallback
	mu     sync.Mutex
	last   []ListedDevice
	stop   chan struct{}
}

func NewPollingLister(lister DeviceLister, cb DeviceCallback) *PollingLister {
	return &PollingLister{lister: lister, cb: cb, stop: make(chan struct{})}
}

// Refresh re-probes the lister, diffs against the previous snapshot and
// fires add/remove callbacks accordingly (§4.1 DeviceLister.refresh()).
func (p *PollingLister) Refresh() error {
	cur, err := p.lister.List()
	if err != nil {
		return err
	}
	p.mu.Lock()
	prev := p.last
	p.last = cur
	p.mu.Unlock()

	added, removed := diffDevices(prev, cur)
	for _, d := range added {
		mp := ""
		if len(d.Mountpoints) > 0 {
			mp = d.Mountpoints[0]
		}
		p.cb.OnDeviceMounted(d.UUID, mp, d.Removable)
	}
	for _, d := range removed {
		p.cb.OnDeviceUnmounted(d.UUID)
	}
	return nil
}

// StartPolling runs Refresh every interval until Stop is called.
func (p *PollingLister) StartPolling(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = p.Refresh()
			case <-p.stop:
				return
			}
		}
	}()
}

func (p *PollingLister) Stop() {
	close(p.stop)
}
