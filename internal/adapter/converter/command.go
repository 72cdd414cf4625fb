package converter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"

	"github.com/cwygoda/printq/internal/config"
)

// CommandConverter runs an external command for matching file names.
type CommandConverter struct {
	name    string
	pattern *regexp.Regexp
	command string
	args    []string
}

// NewCommandConverter creates a converter from config.
func NewCommandConverter(cc config.ConverterConfig) (*CommandConverter, error) {
	re, err := regexp.Compile(cc.Pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", cc.Pattern, err)
	}
	return &CommandConverter{
		name:    cc.Name,
		pattern: re,
		command: cc.Command,
		args:    cc.Args,
	}, nil
}

// FromConfig builds a registry holding one converter per config entry, in order.
func FromConfig(ccs []config.ConverterConfig) (*Registry, error) {
	r := NewRegistry()
	for _, cc := range ccs {
		c, err := NewCommandConverter(cc)
		if err != nil {
			return nil, fmt.Errorf("converter %s: %w", cc.Name, err)
		}
		r.Register(c)
	}
	return r, nil
}

func (c *CommandConverter) Name() string {
	return c.name
}

func (c *CommandConverter) Match(filename string) bool {
	return c.pattern.MatchString(filename)
}

// Convert runs the command inside outDir with {input} and {outdir}
// replaced. Whatever the command leaves in outDir is the result.
func (c *CommandConverter) Convert(ctx context.Context, src, outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	r := strings.NewReplacer("{input}", src, "{outdir}", outDir)
	args := make([]string, len(c.args))
	for i, arg := range c.args {
		args[i] = r.Replace(arg)
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Dir = outDir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", c.command, err, strings.TrimSpace(string(output)))
	}
	return nil
}
