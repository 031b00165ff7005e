package flatscript

import (
	"errors"
	"fmt"
	"os"
	"sort"

	zygo "github.com/glycerine/zygomys/zygo"
	"github.com/soypat/flatsdf"
	"github.com/soypat/geometry/ms3"
)

// Builtin describes a console function.
type Builtin struct {
	Name string
	// Args names the arguments in order.
	Args []string
	Desc string
}

type builtinFunc func(c *Console, args []zygo.Sexp) (zygo.Sexp, error)

type builtin struct {
	Builtin
	fn builtinFunc
}

var xyz0xyz1 = []string{"xmin", "ymin", "zmin", "xmax", "ymax", "zmax"}

// builtins is populated in init since help refers back to it.
var builtins []builtin

func init() {
	builtins = []builtin{
		{Builtin{"quit", nil, "Flags the console to exit."}, bQuit},
		{Builtin{"show", []string{"entity"}, "Shows the given entity in the display."}, bShow},
		{Builtin{"box", xyz0xyz1, "Creates an axis aligned box from its min and max corners."}, bBox},
		{Builtin{"sphere", []string{"xcenter", "ycenter", "zcenter", "radius"}, "Creates a sphere."}, bSphere},
		{Builtin{"cylinder", []string{"xstart", "ystart", "zstart", "xend", "yend", "zend", "radius"}, "Creates a capped cylinder."}, bCylinder},
		{Builtin{"halfspace", []string{"xorigin", "yorigin", "zorigin", "xnormal", "ynormal", "znormal"}, "Creates a halfspace bounded by a plane. The normal points out of the solid."}, bHalfSpace},
		{Builtin{"gyroid", []string{"scale", "thickness"}, "Creates a gyroid lattice."}, bGyroid},
		{Builtin{"schwarz", []string{"scale", "thickness"}, "Creates a schwarz lattice."}, bSchwarz},
		{Builtin{"bunion", []string{"first", "second"}, "Creates the boolean union of two entities."}, bUnion},
		{Builtin{"bintersect", []string{"first", "second"}, "Creates the boolean intersection of two entities."}, bIntersect},
		{Builtin{"bsubtract", []string{"first", "second"}, "Subtracts the second entity from the first."}, bSubtract},
		{Builtin{"offset", []string{"entity", "distance"}, "Offsets the surface of an entity. Positive distances grow it."}, bOffset},
		{Builtin{"linblend", []string{"first", "second", "x1", "y1", "z1", "x2", "y2", "z2"}, "Blends linearly from the first entity at the first point to the second entity at the second point."}, bLinBlend},
		{Builtin{"smoothblend", []string{"first", "second", "x1", "y1", "z1", "x2", "y2", "z2"}, "Blends with smoothstep easing from the first entity at the first point to the second entity at the second point."}, bSmoothBlend},
		{Builtin{"load", []string{"filepath"}, "Runs a script file in the current environment once the current expression completes."}, bLoad},
		{Builtin{"exportframe", []string{"filepath"}, "Exports the current frame as a BMP or PNG image."}, bExportFrame},
		{Builtin{"setbounds", xyz0xyz1, "Sets the build volume framed by the display."}, bSetBounds},
		{Builtin{"viewer_debugmode", []string{"flag"}, "Sets the display debug mode flag, 0 or 1."}, bDebugMode},
		{Builtin{"viewer_debugstep", nil, "Advances the display by one frame in debug mode."}, bDebugStep},
		{Builtin{"help", nil, "Lists the console functions."}, bHelp},
	}
}

// Builtins returns the console functions sorted by name.
func Builtins() []Builtin {
	list := make([]Builtin, len(builtins))
	for i := range builtins {
		list[i] = builtins[i].Builtin
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list
}

func (c *Console) registerBuiltins() {
	for i := range builtins {
		b := &builtins[i]
		c.env.AddFunction(b.Name, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) != len(b.Args) {
				return zygo.SexpNull, fmt.Errorf("%s: want %d arguments, got %d", b.Name, len(b.Args), len(args))
			}
			result, err := b.fn(c, args)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", b.Name, err)
			}
			return result, nil
		})
	}
}

func bQuit(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	fmt.Fprintln(c.cfg.Output, "exiting")
	c.quit = true
	return zygo.SexpNull, nil
}

func bShow(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	e, err := entityArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return zygo.SexpNull, c.cfg.Display.Show(c.ctx, e[0])
}

func bBox(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	f, err := floatArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return c.entity(c.bld.NewBox(ms3.Vec{X: f[0], Y: f[1], Z: f[2]}, ms3.Vec{X: f[3], Y: f[4], Z: f[5]}))
}

func bSphere(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	f, err := floatArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return c.entity(c.bld.NewSphere(ms3.Vec{X: f[0], Y: f[1], Z: f[2]}, f[3]))
}

func bCylinder(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	f, err := floatArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return c.entity(c.bld.NewCylinder(ms3.Vec{X: f[0], Y: f[1], Z: f[2]}, ms3.Vec{X: f[3], Y: f[4], Z: f[5]}, f[6]))
}

func bHalfSpace(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	f, err := floatArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return c.entity(c.bld.NewHalfSpace(ms3.Vec{X: f[0], Y: f[1], Z: f[2]}, ms3.Vec{X: f[3], Y: f[4], Z: f[5]}))
}

func bGyroid(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	f, err := floatArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return c.entity(c.bld.NewGyroid(f[0], f[1]))
}

func bSchwarz(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	f, err := floatArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return c.entity(c.bld.NewSchwarz(f[0], f[1]))
}

func bUnion(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	e, err := entityArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return c.entity(c.bld.Union(e[0], e[1]))
}

func bIntersect(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	e, err := entityArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return c.entity(c.bld.Intersection(e[0], e[1]))
}

func bSubtract(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	e, err := entityArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	return c.entity(c.bld.Subtraction(e[0], e[1]))
}

func bOffset(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	e, err := entityArgs(args[:1])
	if err != nil {
		return zygo.SexpNull, err
	}
	d, err := toFloat(args[1])
	if err != nil {
		return zygo.SexpNull, fmt.Errorf("argument 2: %w", err)
	}
	return c.entity(c.bld.Offset(e[0], d))
}

func bLinBlend(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	return c.blend(args, c.bld.LinearBlend)
}

func bSmoothBlend(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	return c.blend(args, c.bld.SmoothBlend)
}

func (c *Console) blend(args []zygo.Sexp, fn func(a, b flatsdf.Entity, p1, p2 ms3.Vec) flatsdf.Entity) (zygo.Sexp, error) {
	e, err := entityArgs(args[:2])
	if err != nil {
		return zygo.SexpNull, err
	}
	f, err := floatArgs(args[2:])
	if err != nil {
		// Point arguments start at the third position.
		var ae *argError
		if errors.As(err, &ae) {
			ae.pos += 2
		}
		return zygo.SexpNull, err
	}
	return c.entity(fn(e[0], e[1], ms3.Vec{X: f[0], Y: f[1], Z: f[2]}, ms3.Vec{X: f[3], Y: f[4], Z: f[5]}))
}

func bLoad(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	path, err := toString(args[0])
	if err != nil {
		return zygo.SexpNull, &argError{pos: 1, err: err}
	}
	if c.depth >= c.cfg.MaxLoadDepth {
		return zygo.SexpNull, fmt.Errorf("nested load exceeds depth %d", c.cfg.MaxLoadDepth)
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return zygo.SexpNull, err
	}
	fmt.Fprintf(c.cfg.Output, "parsing file: %s\n\n%s\n\n", path, src)
	c.pending = append(c.pending, pendingLoad{path: path, src: string(src), depth: c.depth + 1})
	return zygo.SexpNull, nil
}

func bExportFrame(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	path, err := toString(args[0])
	if err != nil {
		return zygo.SexpNull, &argError{pos: 1, err: err}
	}
	err = c.cfg.Display.ExportFrame(c.ctx, path)
	if err != nil {
		return zygo.SexpNull, err
	}
	fmt.Fprintln(c.cfg.Output, "frame was exported")
	return zygo.SexpNull, nil
}

func bSetBounds(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	f, err := floatArgs(args)
	if err != nil {
		return zygo.SexpNull, err
	}
	bb := ms3.Box{Min: ms3.Vec{X: f[0], Y: f[1], Z: f[2]}, Max: ms3.Vec{X: f[3], Y: f[4], Z: f[5]}}
	return zygo.SexpNull, c.cfg.Display.SetBounds(c.ctx, bb)
}

func bDebugMode(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	var enable bool
	switch v := args[0].(type) {
	case *zygo.SexpBool:
		enable = v.Val
	case *zygo.SexpInt:
		if v.Val != 0 && v.Val != 1 {
			return zygo.SexpNull, errors.New("argument must be either 0 or 1")
		}
		enable = v.Val == 1
	default:
		return zygo.SexpNull, &argError{pos: 1, err: fmt.Errorf("expected 0, 1 or boolean, got %s", args[0].SexpString(nil))}
	}
	return zygo.SexpNull, c.cfg.Display.SetDebugMode(c.ctx, enable)
}

func bDebugStep(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	return zygo.SexpNull, c.cfg.Display.DebugStep(c.ctx)
}

func bHelp(c *Console, args []zygo.Sexp) (zygo.Sexp, error) {
	for _, b := range Builtins() {
		fmt.Fprintf(c.cfg.Output, "(%s", b.Name)
		for _, arg := range b.Args {
			fmt.Fprintf(c.cfg.Output, " %s", arg)
		}
		fmt.Fprintf(c.cfg.Output, ")\n\t%s\n", b.Desc)
	}
	return zygo.SexpNull, nil
}

// entity returns the builder's result or its accumulated parameter errors.
func (c *Console) entity(e flatsdf.Entity) (zygo.Sexp, error) {
	err := c.bld.Err()
	if err != nil {
		c.bld.ClearErrors()
		return zygo.SexpNull, err
	}
	if c.cfg.AutoShow {
		err = c.cfg.Display.Show(c.ctx, e)
		if err != nil {
			fmt.Fprintf(c.cfg.Output, "not shown: %s\n", err)
		}
	}
	return &sexpEntity{e: e}, nil
}

type argError struct {
	pos int
	err error
}

func (ae *argError) Error() string { return fmt.Sprintf("argument %d: %s", ae.pos, ae.err) }

func (ae *argError) Unwrap() error { return ae.err }

func floatArgs(args []zygo.Sexp) ([]float32, error) {
	f := make([]float32, len(args))
	for i, arg := range args {
		v, err := toFloat(arg)
		if err != nil {
			return nil, &argError{pos: i + 1, err: err}
		}
		f[i] = v
	}
	return f, nil
}

func entityArgs(args []zygo.Sexp) ([]flatsdf.Entity, error) {
	e := make([]flatsdf.Entity, len(args))
	for i, arg := range args {
		se, ok := arg.(*sexpEntity)
		if !ok {
			return nil, &argError{pos: i + 1, err: fmt.Errorf("expected entity, got %s", arg.SexpString(nil))}
		}
		e[i] = se.e
	}
	return e, nil
}

func toFloat(s zygo.Sexp) (float32, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return float32(v.Val), nil
	case *zygo.SexpFloat:
		return float32(v.Val), nil
	}
	return 0, fmt.Errorf("expected number, got %s", s.SexpString(nil))
}

func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %s", s.SexpString(nil))
}
