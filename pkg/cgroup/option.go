package cgroup

// Option describes the limits wanted on a sandbox's cgroup leaf. Nil fields
// (and an empty Cpus) leave the kernel default untouched.
type Option struct {
	CpuMax    *CpuLimit           `yaml:"cpu_max,omitempty"`
	MemoryMax *LimitValue[uint64] `yaml:"memory_max,omitempty"`
	PidsMax   *LimitValue[uint32] `yaml:"pids_max,omitempty"`
	Cpus      string              `yaml:"cpus,omitempty"`
}

// IsEmpty reports whether applying the option would write nothing.
func (o *Option) IsEmpty() bool {
	if o == nil {
		return true
	}
	return o.CpuMax == nil && o.MemoryMax == nil && o.PidsMax == nil && o.Cpus == ""
}

// Controllers lists the controllers the option's files belong to, in the
// order ApplyOptions writes them.
func (o *Option) Controllers() []Controller {
	if o == nil {
		return nil
	}
	var controllers []Controller
	if o.CpuMax != nil {
		controllers = append(controllers, ControllerCpu)
	}
	if o.MemoryMax != nil {
		controllers = append(controllers, ControllerMemory)
	}
	if o.PidsMax != nil {
		controllers = append(controllers, ControllerPids)
	}
	if o.Cpus != "" {
		controllers = append(controllers, ControllerCpuset)
	}
	return controllers
}
