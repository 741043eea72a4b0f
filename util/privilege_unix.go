//go:build unix

package util

import (
	"fmt"
	"os/user"
	"strconv"

	"golang.org/x/sys/unix"
)

// DropPrivileges switches group then user. Names and numeric ids are both
// accepted, empty means keep.
func DropPrivileges(userName, groupName string) error {
	if len(groupName) > 0 {
		gid, err := lookupID(groupName, func(name string) (string, error) {
			g, err := user.LookupGroup(name)
			if err != nil {
				return "", err
			}
			return g.Gid, nil
		})
		if err != nil {
			return fmt.Errorf("group %q: %w", groupName, err)
		}
		if err = unix.Setgroups([]int{gid}); err != nil {
			return fmt.Errorf("setgroups %d: %w", gid, err)
		}
		if err = unix.Setgid(gid); err != nil {
			return fmt.Errorf("setgid %d: %w", gid, err)
		}
	}

	if len(userName) > 0 {
		uid, err := lookupID(userName, func(name string) (string, error) {
			u, err := user.Lookup(name)
			if err != nil {
				return "", err
			}
			return u.Uid, nil
		})
		if err != nil {
			return fmt.Errorf("user %q: %w", userName, err)
		}
		if err = unix.Setuid(uid); err != nil {
			return fmt.Errorf("setuid %d: %w", uid, err)
		}
	}

	return nil
}

func lookupID(name string, lookup func(string) (string, error)) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}

	raw, err := lookup(name)
	if err != nil {
		return -1, err
	}

	return strconv.Atoi(raw)
}
