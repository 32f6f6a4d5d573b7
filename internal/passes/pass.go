package passes

import (
	"fmt"

	"github.com/apex/log"

	"jvminstr/internal/bytecode"
	"jvminstr/internal/classfile"
	"jvminstr/internal/flow"
)

// Pass rewrites the instructions it matches. Match sees every original
// instruction of a method once, in order; fragment instructions are never
// offered.
type Pass interface {
	Name() string
	Match(ctx *Context, n *bytecode.Node) bool
	Apply(ctx *Context, n *bytecode.Node) error
}

// Enterer is implemented by passes with per-method setup that runs before
// the instructions are walked.
type Enterer interface {
	Enter(ctx *Context) error
}

// MethodFilter is implemented by passes that skip whole methods.
type MethodFilter interface {
	Accept(ctx *Context) bool
}

// Mode controls error handling behavior.
type Mode int

const (
	ModeStrict     Mode = iota // first failing method fails the class
	ModeBestEffort             // failing methods are left unchanged, with a diag
)

// Options controls a run.
type Options struct {
	Mode Mode
	Flow flow.Options
}

// Site is one rewritten instruction.
type Site struct {
	Class  string `json:"class"`
	Method string `json:"method"`
	Pass   string `json:"pass"`
	Offset int    `json:"offset"` // in the original code
	Inst   string `json:"inst"`
	Detail string `json:"detail,omitempty"`
}

// Report summarizes a run over one class.
type Report struct {
	Class     string
	Sites     []Site
	Rewritten []classfile.MethodKey
	Diags     Diags
}

// Run applies the passes to every method with code, in order, and
// replaces the Code attribute of each method a pass touched. Methods are
// rebuilt as a unit: an error leaves the method's code as it was.
func Run(c *classfile.Class, opts Options, ps ...Pass) (*Report, error) {
	rep := &Report{Class: c.This}
	self := c.MethodSet()
	once := make(map[string]bool)

	for _, m := range c.Methods {
		if m.Code == nil {
			continue
		}
		code, sites, dropped, err := method(c, m, self, once, opts, ps)
		if err != nil {
			err = fmt.Errorf("%s.%s: %w", c.This, m.Key(), err)
			if opts.Mode == ModeStrict {
				return nil, err
			}
			rep.Diags.Add(m.Key().String(), DiagFailed, err.Error())
			continue
		}
		if code == nil {
			continue
		}
		m.Code = code
		rep.Sites = append(rep.Sites, sites...)
		rep.Rewritten = append(rep.Rewritten, m.Key())
		for _, name := range dropped {
			rep.Diags.Addf(m.Key().String(), DiagDroppedAttr, "%s has offsets that cannot be rebound", name)
		}
	}

	log.WithFields(log.Fields{
		"class":   c.This,
		"methods": len(rep.Rewritten),
		"sites":   len(rep.Sites),
	}).Debug("instrumented")
	return rep, nil
}

// method rewrites one method. It returns a nil Code when no pass touched
// it, and the names of the code attributes the new Code lacks.
func method(c *classfile.Class, m *classfile.Method, self map[classfile.MethodKey]bool, once map[string]bool, opts Options, ps []Pass) (*classfile.Code, []Site, []string, error) {
	s, err := bytecode.Decode(c, m)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx := &Context{Class: c, Pool: c.Pool, Method: m, Stream: s, Self: self, Once: once}

	var sites []Site
	for _, p := range ps {
		if e, ok := p.(Enterer); ok {
			if err := e.Enter(ctx); err != nil {
				return nil, nil, nil, fmt.Errorf("%s: %w", p.Name(), err)
			}
		}
		if f, ok := p.(MethodFilter); ok && !f.Accept(ctx) {
			continue
		}
		for _, n := range s.All() {
			if n.Synthetic || !p.Match(ctx, n) {
				continue
			}
			if err := p.Apply(ctx, n); err != nil {
				return nil, nil, nil, fmt.Errorf("%s: %w", p.Name(), err)
			}
			sites = append(sites, Site{
				Class:  c.This,
				Method: m.Key().String(),
				Pass:   p.Name(),
				Offset: n.Offset,
				Inst:   n.Mnemonic(),
				Detail: bytecode.Operand(n, c.Pool),
			})
		}
	}
	if !ctx.touched {
		return nil, nil, nil, nil
	}

	if err := flow.Recompute(s, c.Pool, opts.Flow); err != nil {
		return nil, nil, nil, err
	}
	code, err := s.Encode(c.Pool)
	if err != nil {
		return nil, nil, nil, err
	}
	var dropped []string
	for _, a := range s.Other {
		dropped = append(dropped, a.Name)
	}
	return code, sites, dropped, nil
}
