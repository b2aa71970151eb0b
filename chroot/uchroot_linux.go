package chroot

import (
	"syscall"
)

// namespaceAttrs creates new user and mount namespaces. Only root can write
// the id maps of a child straight away; anyone else goes through the id
// mappers once the child exists.
//
func namespaceAttrs(uid, gid int, uids, gids Range) *syscall.SysProcAttr {
	attrs := &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWNS,
		Pdeathsig:  syscall.SIGKILL,
	}

	if uid != 0 {
		return attrs
	}

	attrs.UidMappings = sysProcIDMaps(idMappings(uid, uids))
	attrs.GidMappings = sysProcIDMaps(idMappings(gid, gids))
	attrs.GidMappingsEnableSetgroups = true

	return attrs
}

func sysProcIDMaps(mappings []idMapping) (maps []syscall.SysProcIDMap) {
	for _, m := range mappings {
		maps = append(maps, syscall.SysProcIDMap{
			ContainerID: m.Inside,
			HostID:      m.Outside,
			Size:        m.Size,
		})
	}

	return
}
