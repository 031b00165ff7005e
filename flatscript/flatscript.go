// Package flatscript implements a Lisp console that builds scenes and drives a [Display].
// The console runs on the zygomys interpreter with the scene builtins installed.
package flatscript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	zygo "github.com/glycerine/zygomys/zygo"
	"github.com/soypat/flatsdf"
	"github.com/soypat/geometry/ms3"
)

// Display is the collaborator that shows scenes built by the console.
// It is implemented by [flataux.Viewer].
type Display interface {
	// Show makes root the displayed scene.
	Show(ctx context.Context, root flatsdf.Entity) error
	// SetBounds sets the build volume framed by the display.
	SetBounds(ctx context.Context, bb ms3.Box) error
	// ExportFrame writes the current frame to an image file.
	ExportFrame(ctx context.Context, filename string) error
	SetDebugMode(ctx context.Context, enable bool) error
	// DebugStep advances the display by one frame in debug mode.
	DebugStep(ctx context.Context) error
}

// ConsoleConfig configures a [Console].
type ConsoleConfig struct {
	Display Display
	// AutoShow shows every entity as it is created.
	AutoShow bool
	// Output receives console messages such as help and load listings. If nil they are discarded.
	Output io.Writer
	// MaxLoadDepth limits how many nested load calls may chain. If zero 16 is used.
	MaxLoadDepth int
}

// Console evaluates scene scripts. Variables persist between calls to [Console.Run].
// A Console is not safe for concurrent use.
type Console struct {
	env  *zygo.Zlisp
	cfg  ConsoleConfig
	bld  flatsdf.Builder
	ctx  context.Context
	quit bool
	// depth is the load nesting of the source being evaluated. Zero for source passed to Run.
	depth int
	// pending holds files queued by load, run after the current expression completes.
	pending []pendingLoad
}

type pendingLoad struct {
	path  string
	src   string
	depth int
}

// NewConsole returns a Console with all builtins installed in a sandboxed interpreter.
func NewConsole(cfg ConsoleConfig) (*Console, error) {
	if cfg.Display == nil {
		return nil, errors.New("console requires a Display")
	}
	if cfg.MaxLoadDepth < 0 {
		return nil, errors.New("negative MaxLoadDepth")
	} else if cfg.MaxLoadDepth == 0 {
		cfg.MaxLoadDepth = 16
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	c := &Console{
		env: zygo.NewZlispSandbox(),
		cfg: cfg,
		ctx: context.Background(),
	}
	c.bld.SetFlags(flatsdf.FlagNoParameterPanic)
	c.registerBuiltins()
	return c, nil
}

// Close releases the interpreter.
func (c *Console) Close() {
	c.env.Stop()
}

// ShouldExit reports whether quit has been called.
func (c *Console) ShouldExit() bool { return c.quit }

// Run evaluates source and returns the printed value of its last expression.
// Files queued with load run after source, in order. An error leaves the console usable.
func (c *Console) Run(ctx context.Context, source string) (string, error) {
	c.ctx = ctx
	defer func() { c.ctx = context.Background() }()
	result, err := c.eval(source)
	if err != nil {
		c.pending = c.pending[:0]
		return "", err
	}
	for len(c.pending) > 0 && !c.quit {
		next := c.pending[0]
		c.pending = c.pending[1:]
		fmt.Fprintf(c.cfg.Output, "running %s\n", next.path)
		result, err = c.evalLoaded(next.src, next.depth)
		if err != nil {
			c.pending = c.pending[:0]
			return "", fmt.Errorf("load %s: %w", next.path, err)
		}
	}
	return result, nil
}

// RunFile reads and evaluates a script file.
func (c *Console) RunFile(ctx context.Context, filename string) error {
	src, err := os.ReadFile(filename)
	if err != nil {
		return err
	}
	_, err = c.Run(ctx, string(src))
	return err
}

func (c *Console) evalLoaded(src string, depth int) (string, error) {
	prev := c.depth
	c.depth = depth
	defer func() { c.depth = prev }()
	return c.eval(src)
}

func (c *Console) eval(source string) (string, error) {
	if strings.TrimSpace(source) == "" {
		return "", nil
	}
	err := c.env.LoadString(source)
	if err != nil {
		c.env.Clear()
		return "", err
	}
	result, err := c.env.Run()
	if err != nil {
		c.env.Clear()
		return "", err
	}
	if result == nil || result == zygo.SexpNull {
		return "", nil
	}
	return result.SexpString(nil), nil
}

// sexpEntity wraps an entity so it can be passed between builtins.
type sexpEntity struct {
	e flatsdf.Entity
}

func (s *sexpEntity) SexpString(ps *zygo.PrintState) string { return flatsdf.FormatEntity(s.e) }

func (s *sexpEntity) Type() *zygo.RegisteredType { return nil }
