//go:build !unix

package util

import "errors"

func DropPrivileges(userName, groupName string) error {
	if len(userName) > 0 || len(groupName) > 0 {
		return errors.New("dropping privileges is not supported on this platform")
	}
	return nil
}
