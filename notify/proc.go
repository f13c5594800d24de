package notify

import (
	"fmt"

	"github.com/shirou/gopsutil/process"

	hal "github.com/librescoot/pn547"
)

// ProcResolver looks up process names through /proc.
type ProcResolver struct{}

var _ hal.ProcessResolver = ProcResolver{}

// ProcessName implements hal.ProcessResolver
func (ProcResolver) ProcessName(pid int) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", fmt.Errorf("process %d: %w", pid, err)
	}
	name, err := p.Name()
	if err != nil {
		return "", fmt.Errorf("process %d name: %w", pid, err)
	}
	return name, nil
}
