// SPDX-License-Identifier: MIT

package recorder

import (
	"errors"
	"strings"
)

// ErrNotConfigured is returned when no capture binary has been configured.
var ErrNotConfigured = errors.New("capture command not configured")

// Spec describes one capture invocation.
type Spec struct {
	RecordingID string
	StreamURL   string
	Title       string
	OutputPath  string
	// Manual marks a user-initiated ad-hoc capture, which counts against the
	// manual slot budget. Scheduled captures are uncapped.
	Manual bool
}

// InvocationBuilder produces the argv for one capture invocation. Implemented
// by CommandBuilder in production and by fakes in tests.
type InvocationBuilder interface {
	Build(spec Spec) (name string, args []string, err error)
}

// CommandBuilder renders a configured argv template. The placeholders {url},
// {output} and {title} are substituted per invocation; any other token is
// passed through verbatim.
type CommandBuilder struct {
	Binary string
	Args   []string
}

// Build renders the template for one spec.
func (b *CommandBuilder) Build(spec Spec) (string, []string, error) {
	if b == nil || b.Binary == "" {
		return "", nil, ErrNotConfigured
	}
	args := make([]string, 0, len(b.Args))
	for _, arg := range b.Args {
		arg = strings.ReplaceAll(arg, "{url}", spec.StreamURL)
		arg = strings.ReplaceAll(arg, "{output}", spec.OutputPath)
		arg = strings.ReplaceAll(arg, "{title}", spec.Title)
		args = append(args, arg)
	}
	return b.Binary, args, nil
}
