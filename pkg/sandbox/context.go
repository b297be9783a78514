package sandbox

import (
	"io"

	"gopkg.in/yaml.v3"

	"github.com/izoli/izoli/pkg/errors"
	"github.com/izoli/izoli/pkg/rootfs"
)

// boxContext is everything the new process needs to finish building the box
// and run the routine. The parent writes it to a pipe the child inherits.
type boxContext struct {
	ID       int            `yaml:"id"`
	Routine  string         `yaml:"routine"`
	Args     []string       `yaml:"args,omitempty"`
	Root     string         `yaml:"root"`
	Hostname string         `yaml:"hostname"`
	Mounts   []rootfs.Mount `yaml:"mounts,omitempty"`
	LogLevel string         `yaml:"log_level,omitempty"`
}

func writeBoxContext(w io.Writer, ctx *boxContext) error {
	data, err := yaml.Marshal(ctx)
	if err != nil {
		return errors.NewInternalError("failed to encode box context", err)
	}
	if _, err := w.Write(data); err != nil {
		return errors.NewOSError("failed to hand box context to child", err)
	}
	return nil
}

func readBoxContext(r io.Reader) (*boxContext, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewOSError("failed to receive box context", err)
	}

	var ctx boxContext
	if err := yaml.Unmarshal(data, &ctx); err != nil {
		return nil, errors.NewParseError("failed to decode box context", err)
	}
	if ctx.Routine == "" || ctx.Root == "" {
		return nil, errors.NewValidationError("box context is incomplete", nil).WithContext("routine", ctx.Routine).WithContext("root", ctx.Root)
	}
	return &ctx, nil
}
