package cgroup

import (
	"strings"

	"github.com/izoli/izoli/pkg/errors"
)

// Controller is a cgroup v2 subsystem that can be enabled on a node.
type Controller int

const (
	ControllerUnknown Controller = iota
	ControllerCpu
	ControllerCpuset
	ControllerMemory
	ControllerIo
	ControllerHugetlb
	ControllerMisc
	ControllerPids
	ControllerRdma
)

var controllerNames = map[Controller]string{
	ControllerCpu:     "cpu",
	ControllerCpuset:  "cpuset",
	ControllerMemory:  "memory",
	ControllerIo:      "io",
	ControllerHugetlb: "hugetlb",
	ControllerMisc:    "misc",
	ControllerPids:    "pids",
	ControllerRdma:    "rdma",
}

// KnownControllers lists every modelled controller in kernel order.
func KnownControllers() []Controller {
	return []Controller{
		ControllerCpuset,
		ControllerCpu,
		ControllerIo,
		ControllerMemory,
		ControllerHugetlb,
		ControllerPids,
		ControllerRdma,
		ControllerMisc,
	}
}

func (c Controller) String() string {
	if name, ok := controllerNames[c]; ok {
		return name
	}
	return "unknown"
}

// ParseController is strict: a name the kernel might report but that is not
// modelled here is a parse error.
func ParseController(name string) (Controller, error) {
	for controller, known := range controllerNames {
		if known == name {
			return controller, nil
		}
	}
	return ControllerUnknown, errors.NewParseError("unknown controller", nil).WithContext("controller", name)
}

// parseControllerList splits a whitespace separated list and maps names it
// does not recognise to ControllerUnknown.
func parseControllerList(content string) []Controller {
	fields := strings.Fields(content)
	controllers := make([]Controller, 0, len(fields))
	for _, field := range fields {
		controller, err := ParseController(field)
		if err != nil {
			controller = ControllerUnknown
		}
		controllers = append(controllers, controller)
	}
	return controllers
}

func formatControllerDelta(sign string, controllers []Controller) string {
	tokens := make([]string, 0, len(controllers))
	for _, controller := range controllers {
		tokens = append(tokens, sign+controller.String())
	}
	return strings.Join(tokens, " ")
}

func (c Controller) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Controller) UnmarshalText(text []byte) error {
	parsed, err := ParseController(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
