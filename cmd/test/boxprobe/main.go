// boxprobe reports what a process sees from inside a box and can push on the
// box's limits. Bind its directory into the box and run it with izoli run.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/docker/go-units"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Memory   string        `long:"memory" description:"size to allocate and touch, e.g. 64M (memory.max check)"`
	Forks    int           `long:"forks" description:"children to keep alive while holding (pids.max check)"`
	Hold     time.Duration `long:"hold" description:"how long to stay up before exiting"`
	ExitCode int           `long:"exit-code" description:"status to exit with"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	report()

	var ballast []byte
	if opts.Memory != "" {
		size, err := units.RAMInBytes(opts.Memory)
		if err != nil {
			fmt.Printf("Invalid memory size: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Allocating %s\n", units.BytesSize(float64(size)))
		ballast = make([]byte, size)
		for i := 0; i < len(ballast); i += os.Getpagesize() {
			ballast[i] = 1
		}
	}

	var children []*exec.Cmd
	for i := 0; i < opts.Forks; i++ {
		child := exec.Command("/proc/self/exe", "--hold", "1h")
		if err := child.Start(); err != nil {
			fmt.Printf("Fork %d failed: %v\n", i+1, err)
			break
		}
		children = append(children, child)
	}
	if opts.Forks > 0 {
		fmt.Printf("Forked %d of %d children\n", len(children), opts.Forks)
	}

	if opts.Hold > 0 {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		select {
		case <-ctx.Done():
			fmt.Printf("Boxprobe received signal\n")
		case <-time.After(opts.Hold):
		}
		stop()
	}

	for _, child := range children {
		_ = child.Process.Kill()
		_ = child.Wait()
	}

	fmt.Printf("Boxprobe exiting, touched: %d bytes, status: %d\n", len(ballast), opts.ExitCode)
	os.Exit(opts.ExitCode)
}

func report() {
	hostname, err := os.Hostname()
	printValue("hostname", hostname, err)

	cwd, err := os.Getwd()
	printValue("cwd", cwd, err)

	fmt.Printf("%-10s %d\n", "pid:", os.Getpid())
	fmt.Printf("%-10s %d\n", "uid:", os.Getuid())

	cgroup, err := os.ReadFile("/proc/self/cgroup")
	printValue("cgroup", strings.TrimSpace(string(cgroup)), err)

	mounts, err := readMountPoints("/proc/self/mounts")
	printValue("mounts", strings.Join(mounts, " "), err)
}

func printValue(name, value string, err error) {
	if err != nil {
		fmt.Printf("%-10s error: %v\n", name+":", err)
		return
	}
	fmt.Printf("%-10s %s\n", name+":", value)
}

func readMountPoints(file string) ([]string, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var points []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 {
			points = append(points, fields[1])
		}
	}
	return points, scanner.Err()
}
