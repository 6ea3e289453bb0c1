package fs

import "testing"

func TestRegistryResolveDeviceLongestPrefix(t *testing.T) {
	r := NewRegistry()
	r.RegisterMountpoint("smb", "dev-outer", "smb://host/share")
	r.RegisterMountpoint("smb", "dev-inner", "smb://host/share/sub")

	uuid, _, rel, ok := r.ResolveDevice("smb://host/share/sub/deep/file.mkv")
	if !ok {
		t.Fatal("expected a match")
	}
	if uuid != "dev-inner" {
		t.Fatalf("expected the longer-prefix (inner) mountpoint to win, got %q", uuid)
	}
	if rel != "deep/file.mkv" {
		t.Fatalf("unexpected relative path %q", rel)
	}
}

func TestRegistryResolveDeviceTiebreakByRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	r.RegisterMountpoint("smb", "dev-first", "smb://host/share")
	r.RegisterMountpoint("smb", "dev-second", "smb://host/share")

	uuid, _, _, ok := r.ResolveDevice("smb://host/share/file.mkv")
	if !ok {
		t.Fatal("expected a match")
	}
	if uuid != "dev-first" {
		t.Fatalf("expected earliest-registered mountpoint to win ties, got %q", uuid)
	}
}

func TestRegistryResolveDeviceNoMatch(t *testing.T) {
	r := NewRegistry()
	r.RegisterMountpoint("smb", "dev", "smb://host/share")
	if _, _, _, ok := r.ResolveDevice("smb://other/share/file.mkv"); ok {
		t.Fatal("expected no match across hosts")
	}
}

type recordingCallback struct {
	mounted   []string
	unmounted []string
}

func (c *recordingCallback) OnDeviceMounted(uuid, mountpoint string, removable bool) {
	c.mounted = append(c.mounted, uuid)
}
func (c *recordingCallback) OnDeviceUnmounted(uuid string) {
	c.unmounted = append(c.unmounted, uuid)
}

func TestDiffDevicesAddRemove(t *testing.T) {
	prev := []ListedDevice{{UUID: "a"}, {UUID: "b"}}
	cur := []ListedDevice{{UUID: "b"}, {UUID: "c"}}
	added, removed := diffDevices(prev, cur)
	if len(added) != 1 || added[0].UUID != "c" {
		t.Fatalf("expected c added, got %+v", added)
	}
	if len(removed) != 1 || removed[0].UUID != "a" {
		t.Fatalf("expected a removed, got %+v", removed)
	}
}

func TestPollingListerEmitsCallbacks(t *testing.T) {
	fake := &FakeLister{Devices: []ListedDevice{{UUID: "a", Mountpoints: []string{"smb://host/a"}}}}
	cb := &recordingCallback{}
	pl := NewPollingLister(fake, cb)

	if err := pl.Refresh(); err != nil {
		t.Fatal(err)
	}
	if len(cb.mounted) != 1 || cb.mounted[0] != "a" {
		t.Fatalf("expected device a mounted, got %+v", cb.mounted)
	}

	fake.Devices = nil
	if err := pl.Refresh(); err != nil {
		t.Fatal(err)
	}
	if len(cb.unmounted) != 1 || cb.unmounted[0] != "a" {
		t.Fatalf("expected device a unmounted, got %+v", cb.unmounted)
	}
}
