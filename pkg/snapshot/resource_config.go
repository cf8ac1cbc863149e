package snapshot

import "sort"

// Perm is a filesystem root's access permission.
type Perm string

const (
	PermRO Perm = "ro"
	PermRW Perm = "rw"
)

// FSRoot is one declared filesystem root.
type FSRoot struct {
	ID      string `json:"id"`
	AbsPath string `json:"abs_path"`
	Perm    Perm   `json:"perm"`
}

// ResourceConfig is the per-project resource configuration (spec.md §3).
// Arrays are stored unsorted by the resource config store; the Snapshot
// Builder sorts a deep copy canonically before it ever reaches the hasher.
type ResourceConfig struct {
	FSRoots        []FSRoot `json:"fs_roots"`
	NetAllowlist   []string `json:"net_allowlist"`
	ExecCwdRootID  *string  `json:"exec_cwd_root_id"`
	SecretsEpoch   uint64   `json:"secrets_epoch"`
}

// canonicalCopy returns a deep copy of rc with fs_roots sorted by id and
// net_allowlist sorted lexicographically — step 4 of the build algorithm
// (spec.md §4.3). The original is left untouched.
func canonicalCopy(rc ResourceConfig) ResourceConfig {
	roots := make([]FSRoot, len(rc.FSRoots))
	copy(roots, rc.FSRoots)
	sort.Slice(roots, func(i, j int) bool { return roots[i].ID < roots[j].ID })

	allow := make([]string, len(rc.NetAllowlist))
	copy(allow, rc.NetAllowlist)
	sort.Strings(allow)

	var execRoot *string
	if rc.ExecCwdRootID != nil {
		v := *rc.ExecCwdRootID
		execRoot = &v
	}

	return ResourceConfig{
		FSRoots:       roots,
		NetAllowlist:  allow,
		ExecCwdRootID: execRoot,
		SecretsEpoch:  rc.SecretsEpoch,
	}
}
