package speech

import (
	"time"

	"github.com/ent0n29/voxbridge/internal/process"
)

// Process is a started synthesis process.
type Process interface {
	Pid() int
	Wait() process.Exit
	Terminate()
}

// Launcher starts the external executable. Tests substitute a fake.
type Launcher interface {
	Launch(path string, args []string) (Process, error)
}

type execLauncher struct {
	grace time.Duration
}

func (l execLauncher) Launch(path string, args []string) (Process, error) {
	h, err := process.Start(path, args, process.Options{Grace: l.grace})
	if err != nil {
		return nil, err
	}
	return h, nil
}
