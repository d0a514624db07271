package diagnostics

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// CountFDs returns the number of open file descriptors and the soft limit.
// Either value is zero where the platform does not expose it.
func CountFDs() (open, limit int) {
	// #nosec G115 -- pids fit in int32 on supported platforms
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, 0
	}
	if n, err := p.NumFDs(); err == nil {
		open = int(n)
	}
	if limits, err := p.Rlimit(); err == nil {
		for _, l := range limits {
			if l.Resource == process.RLIMIT_NOFILE {
				// #nosec G115 -- rlimit values are always within int range on supported platforms
				limit = int(l.Soft)
			}
		}
	}
	return open, limit
}
