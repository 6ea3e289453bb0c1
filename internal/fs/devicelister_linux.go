//go:build linux

// Removable-device enumeration on Linux: parse /proc/mounts for
// filesystems mounted under /media, /run/media or /mnt (the conventional
// removable-media mountpoint roots) and tag each with a stable UUID via
// the /dev/disk/by-uuid symlink farm, using golang.org/x/sys/unix for
// the underlying stat/readlink syscalls rather than shelling out.
package fs

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// LinuxRemovableLister implements DeviceLister by scanning /proc/mounts.
type LinuxRemovableLister struct {
	roots []string // mountpoint prefixes considered "removable media", e.g. /media, /run/media
}

func NewLinuxRemovableLister() *LinuxRemovableLister {
	return &LinuxRemovableLister{roots: []string{"/media", "/run/media", "/mnt"}}
}

func (l *LinuxRemovableLister) List() ([]ListedDevice, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	byDevice := make(map[string]*ListedDevice)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		devPath, mountpoint := fields[0], fields[1]
		if !l.underRemovableRoot(mountpoint) {
			continue
		}
		uuid := uuidForDevice(devPath)
		if uuid == "" {
			uuid = devPath
		}
		d, ok := byDevice[uuid]
		if !ok {
			d = &ListedDevice{UUID: uuid, Removable: true}
			byDevice[uuid] = d
		}
		d.Mountpoints = append(d.Mountpoints, mountpoint)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	out := make([]ListedDevice, 0, len(byDevice))
	for _, d := range byDevice {
		out = append(out, *d)
	}
	return out, nil
}

func (l *LinuxRemovableLister) underRemovableRoot(mountpoint string) bool {
	for _, root := range l.roots {
		if mountpoint == root || strings.HasPrefix(mountpoint, root+"/") {
			return true
		}
	}
	return false
}

// uuidForDevice resolves a /dev/sdXN path to its stable UUID by walking
// /dev/disk/by-uuid and comparing device inode numbers via unix.Stat,
// avoiding any exec of blkid/lsblk.
func uuidForDevice(devPath string) string {
	var devStat unix.Stat_t
	if err := unix.Stat(devPath, &devStat); err != nil {
		return ""
	}
	entries, err := os.ReadDir("/dev/disk/by-uuid")
	if err != nil {
		return ""
	}
	for _, e := range entries {
		full := filepath.Join("/dev/disk/by-uuid", e.Name())
		var st unix.Stat_t
		if err := unix.Stat(full, &st); err != nil {
			continue
		}
		if st.Ino == devStat.Ino && st.Dev == devStat.Dev {
			return e.Name()
		}
	}
	return ""
}
