// Network scheme factory: smb:// shares, backed by go-smb2 (the only
// SMB client in the retrieval pack, carried over from
// ZaparooProject-zaparoo-core's dependency set). Listing and device
// resolution share the same shape as the local factory, but every
// directory listing runs under an explicit wall-clock timeout (§5). A
// failed dial is re-checked against RefreshDevices before ErrDeviceRemoved
// is reported (§4.5 step 2); ReadDir errors are returned as they are.
package fs

import (
	"context"
	"net"
	"sync"
	"time"

	smb2 "github.com/cloudsoda/go-smb2"
	"golang.org/x/time/rate"

	"github.com/mediavault/libcatalog/internal/mlerrors"
	"github.com/mediavault/libcatalog/internal/mrl"
)

// NetworkListingTimeout is the explicit wall-clock timeout for a network
// directory listing (§5: "the network directory listing uses a similar
// timeout and reports ETIMEDOUT via System on expiry").
const NetworkListingTimeout = 5 * time.Second

// SMBDialer abstracts the subset of go-smb2 the factory needs, so tests
// can substitute a fake session without opening a real TCP connection.
type SMBDialer interface {
	Dial(ctx context.Context, addr string) (SMBSession, error)
}

// SMBSession abstracts a mounted share session.
type SMBSession interface {
	ReadDir(share, dir string) ([]Entry, error)
	Close() error
}

// realSMBDialer dials a real SMB server via go-smb2.
type realSMBDialer struct {
	user, pass string
}

func NewRealSMBDialer(user, pass string) SMBDialer {
	return &realSMBDialer{user: user, pass: pass}
}

func (d *realSMBDialer) Dial(ctx context.Context, addr string) (SMBSession, error) {
	conn, err := net.DialTimeout("tcp", addr, NetworkListingTimeout)
	if err != nil {
		return nil, mlerrors.NewSystemError(110, "ETIMEDOUT", err)
	}
	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{User: d.user, Password: d.pass},
	}
	sess, err := dialer.DialContext(ctx, conn)
	if err != nil {
		return nil, mlerrors.NewSystemError(1, err.Error(), err)
	}
	return &realSMBSession{sess: sess}, nil
}

type realSMBSession struct {
	sess *smb2.Session
}

func (s *realSMBSession) ReadDir(share, dir string) ([]Entry, error) {
	fs, err := s.sess.Mount(share)
	if err != nil {
		return nil, mlerrors.NewSystemError(1, err.Error(), err)
	}
	defer fs.Umount()
	entries, err := fs.ReadDir(dir)
	if err != nil {
		return nil, mlerrors.NewSystemError(1, err.Error(), err)
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir(), Size: e.Size(), ModTime: e.ModTime()})
	}
	return out, nil
}

func (s *realSMBSession) Close() error { return s.sess.Logoff() }

type smbDirectory struct {
	mrl     string
	factory *SMBFactory
	share   string
	dir     string
	cached  []Entry
	hasRead bool
}

func (d *smbDirectory) MRL() string { return d.mrl }

func (d *smbDirectory) Entries() ([]Entry, error) {
	if d.hasRead {
		return d.cached, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), NetworkListingTimeout)
	defer cancel()

	sess, err := d.factory.dialer.Dial(ctx, d.factory.addr)
	if err != nil {
		// A dial failure might mean the device actually went away;
		// refresh and re-check before blaming a transient I/O error.
		_ = d.factory.RefreshDevices()
		if !d.factory.present {
			return nil, mlerrors.ErrDeviceRemoved
		}
		return nil, err
	}
	defer sess.Close()

	entries, err := sess.ReadDir(d.share, d.dir)
	if err != nil {
		return nil, err
	}
	d.cached = entries
	d.hasRead = true
	return entries, nil
}

// SMBFactory implements FileSystemFactory for smb:// MRLs against a
// single configured share (one factory instance per share mountpoint;
// Build registers each factory a host passes in ExtraFSFactories).
type SMBFactory struct {
	dialer    SMBDialer
	addr      string
	uuid      string
	removable bool

	mu      sync.Mutex
	present bool
	cb      DeviceCallback
	lister  *PollingLister
	refresh *rate.Limiter
}

// refreshInterval bounds how often RefreshDevices is allowed to re-dial
// a flaky share: one attempt every 2 seconds, so an unreachable SMB
// host during heavy FSD activity can't be hammered with reconnects.
const refreshInterval = 2 * time.Second

func NewSMBFactory(dialer SMBDialer, addr, uuid string) *SMBFactory {
	return &SMBFactory{
		dialer:  dialer,
		addr:    addr,
		uuid:    uuid,
		present: true,
		refresh: rate.NewLimiter(rate.Every(refreshInterval), 1),
	}
}

func (f *SMBFactory) Scheme() string { return "smb" }

func splitSMBPath(p string) (share, dir string) {
	trimmed := p
	if len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	for i := 0; i < len(trimmed); i++ {
		if trimmed[i] == '/' {
			return trimmed[:i], trimmed[i+1:]
		}
	}
	return trimmed, ""
}

func (f *SMBFactory) Directory(mrlStr string) (Directory, error) {
	_, _, _, p, err := mrl.Decode(mrlStr)
	if err != nil {
		return nil, err
	}
	share, dir := splitSMBPath(p)
	return &smbDirectory{mrl: mrlStr, factory: f, share: share, dir: dir}, nil
}

func (f *SMBFactory) File(mrlStr string) (File, error) {
	return &smbFileHandle{mrl: mrlStr}, nil
}

type smbFileHandle struct{ mrl string }

func (h *smbFileHandle) MRL() string                    { return h.mrl }
func (h *smbFileHandle) Size() (int64, error)           { return 0, mlerrors.ErrUnhandledScheme }
func (h *smbFileHandle) ModTime() (time.Time, error)    { return time.Time{}, mlerrors.ErrUnhandledScheme }

func (f *SMBFactory) Device(uuid string) (DeviceHandle, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if uuid != f.uuid {
		return DeviceHandle{}, false
	}
	return DeviceHandle{UUID: f.uuid, Network: true, Removable: f.removable, Present: f.present}, true
}

func (f *SMBFactory) DeviceFromMRL(mrlStr string) (DeviceHandle, string, bool) {
	h, ok := f.Device(f.uuid)
	return h, "smb://" + f.addr, ok
}

// RefreshDevices re-dials the share to confirm presence; network
// factories discover devices continuously via whatever lister backs
// them (§4.1), here approximated by an on-demand connectivity probe.
func (f *SMBFactory) RefreshDevices() error {
	if !f.refresh.Allow() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), NetworkListingTimeout)
	defer cancel()
	sess, err := f.dialer.Dial(ctx, f.addr)
	f.mu.Lock()
	wasPresent := f.present
	f.present = err == nil
	nowPresent := f.present
	f.mu.Unlock()
	if err == nil {
		sess.Close()
	}
	if f.cb != nil {
		if !wasPresent && nowPresent {
			f.cb.OnDeviceMounted(f.uuid, "smb://"+f.addr, f.removable)
		} else if wasPresent && !nowPresent {
			f.cb.OnDeviceUnmounted(f.uuid)
		}
	}
	return nil
}

func (f *SMBFactory) Start(cb DeviceCallback) error {
	f.cb = cb
	return f.RefreshDevices()
}

func (f *SMBFactory) Stop() {
	if f.lister != nil {
		f.lister.Stop()
	}
}
