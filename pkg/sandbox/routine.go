package sandbox

import (
	"fmt"
	"sync"

	"github.com/izoli/izoli/pkg/logging"
	"github.com/izoli/izoli/pkg/process"
)

// Routine is code run as the box's first process after its prelude. The
// return value becomes the box's exit status.
type Routine func(args []string, logger logging.Logger) int

// ExecRoutineName replaces the box's first process with args[0].
const ExecRoutineName = "exec"

var (
	routinesMutex sync.RWMutex
	routines      = map[string]Routine{}
)

func init() {
	Register(ExecRoutineName, execRoutine)
}

// Register makes routine available to Enter under name. The new process is
// a re-execution of the current binary, so registration has to happen
// during package initialization or before Init is called in main.
func Register(name string, routine Routine) {
	routinesMutex.Lock()
	defer routinesMutex.Unlock()

	if name == "" || routine == nil {
		panic("sandbox: routine name and function are required")
	}
	if _, exists := routines[name]; exists {
		panic(fmt.Sprintf("sandbox: routine %q registered twice", name))
	}
	routines[name] = routine
}

func lookupRoutine(name string) (Routine, bool) {
	routinesMutex.RLock()
	defer routinesMutex.RUnlock()

	routine, ok := routines[name]
	return routine, ok
}

func execRoutine(args []string, logger logging.Logger) int {
	err := process.Exec(process.ExecutionConfigFromArgv(args), logger)
	logger.Errorf("Failed to execute program, args: %v, error: %v", args, err)
	return process.ExecExitCode(err)
}
