package supervisor

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"

	"github.com/sysg-dev/sysg/internal/config"
)

// PrivilegeContext applies a pre-exec privilege transition to a child's
// syscall.SysProcAttr. The core treats it as an opaque applier passed in
// at spawn time (spec.md §1: "Privileged-mode pre-exec configuration ...
// the core delegates to a PrivilegeContext applier"). UnixCredentials is
// the default implementation, covering the user/group subset; rlimits,
// affinity, capabilities, namespaces and cgroup attach are left to a
// caller-supplied PrivilegeContext since they have no portable stdlib
// surface and no library in this corpus targets them.
type PrivilegeContext interface {
	Apply(attr *syscall.SysProcAttr)
}

// UnixCredentials resolves a user/group name-or-id pair to numeric
// uid/gid and applies them via syscall.Credential.
type UnixCredentials struct {
	Uid uint32
	Gid uint32
}

// ResolveCredentials resolves a PrivilegeSpec into a PrivilegeContext.
// Returns nil if the spec is nil or empty.
func ResolveCredentials(spec *config.PrivilegeSpec) (PrivilegeContext, error) {
	if spec == nil || (spec.User == "" && spec.Group == "") {
		return nil, nil
	}

	creds := &UnixCredentials{}

	if spec.User != "" {
		uid, err := resolveUser(spec.User)
		if err != nil {
			return nil, fmt.Errorf("resolve user %q: %w", spec.User, err)
		}
		creds.Uid = uid

		if spec.Group == "" {
			u, err := lookupUser(spec.User)
			if err != nil {
				return nil, fmt.Errorf("lookup primary group for %q: %w", spec.User, err)
			}
			gid, err := strconv.ParseUint(u.Gid, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("parse primary gid %q: %w", u.Gid, err)
			}
			creds.Gid = uint32(gid)
		}
	}

	if spec.Group != "" {
		gid, err := resolveGroup(spec.Group)
		if err != nil {
			return nil, fmt.Errorf("resolve group %q: %w", spec.Group, err)
		}
		creds.Gid = gid
	}

	return creds, nil
}

func (c *UnixCredentials) Apply(attr *syscall.SysProcAttr) {
	if c == nil {
		return
	}
	attr.Credential = &syscall.Credential{Uid: c.Uid, Gid: c.Gid}
}

func resolveUser(nameOrID string) (uint32, error) {
	if uid, err := strconv.ParseUint(nameOrID, 10, 32); err == nil {
		return uint32(uid), nil
	}
	u, err := user.Lookup(nameOrID)
	if err != nil {
		return 0, err
	}
	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	return uint32(uid), nil
}

func resolveGroup(nameOrID string) (uint32, error) {
	if gid, err := strconv.ParseUint(nameOrID, 10, 32); err == nil {
		return uint32(gid), nil
	}
	g, err := user.LookupGroup(nameOrID)
	if err != nil {
		return 0, err
	}
	gid, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse gid %q: %w", g.Gid, err)
	}
	return uint32(gid), nil
}

func lookupUser(nameOrID string) (*user.User, error) {
	if _, err := strconv.ParseUint(nameOrID, 10, 32); err == nil {
		return user.LookupId(nameOrID)
	}
	return user.Lookup(nameOrID)
}
