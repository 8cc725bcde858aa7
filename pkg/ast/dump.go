package ast

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

const maxPad = 448

type dumper struct {
	w *bufio.Writer
}

func pad(level int) string {
	n := level * 4
	if n > maxPad {
		n = maxPad
	}
	return strings.Repeat(" ", n)
}

// Dump writes a human-readable rendering of list to w, indenting four
// spaces per nesting level.
func Dump(w io.Writer, list *CommandList) error {
	d := &dumper{w: bufio.NewWriter(w)}
	if list != nil {
		for _, c := range list.Commands {
			d.command(c)
		}
	}
	return d.w.Flush()
}

// String returns the dump of list.
func (l *CommandList) String() string {
	var sb strings.Builder
	Dump(&sb, l)
	return sb.String()
}

func (d *dumper) printf(level int, format string, args ...any) {
	d.w.WriteString(pad(level))
	fmt.Fprintf(d.w, format, args...)
	d.w.WriteByte('\n')
}

func (d *dumper) command(c *Command) {
	d.printf(0, "command %q {", c.Name)
	if a := c.Args; a != nil {
		if a.BooleanArgs {
			d.booleanValue(1, a.Bool)
		} else if a.Words != nil {
			for _, w := range a.Words.Argv {
				d.printf(1, "%q", w)
			}
		}
	}
	d.printf(0, "}")
}

func (d *dumper) booleanValue(level int, v *BooleanValue) {
	if v == nil {
		d.printf(level, "<NULL BVAL>")
		return
	}
	switch v.Kind {
	case BoolExpression:
		d.booleanExpression(level, v.Expression)
	case BoolStringComparison:
		d.stringComparison(level, v.StringComparison)
	default:
		d.printf(level, "<UNKNOWN BVAL TYPE %d>", int(v.Kind))
	}
}

func (d *dumper) booleanExpression(level int, e *BooleanExpression) {
	if e == nil {
		d.printf(level, "<NULL BOOLEAN>")
		return
	}
	op := "??"
	if e.Op >= OpNot && e.Op <= OpOr {
		op = e.Op.String()
	}
	d.printf(level, "BOOLEAN %s {", op)
	d.booleanValue(level+1, e.Arg1)
	if !e.Op.Unary() {
		d.booleanValue(level+1, e.Arg2)
	}
	d.printf(level, "}")
}

func (d *dumper) stringComparison(level int, e *StringComparisonExpression) {
	if e == nil {
		d.printf(level, "<NULL STRING>")
		return
	}
	op := "??"
	if e.Op >= OpLt && e.Op <= OpStrNe {
		op = e.Op.String()
	}
	d.printf(level, "STRING %s {", op)
	d.stringValue(level+1, e.Arg1)
	d.stringValue(level+1, e.Arg2)
	d.printf(level, "}")
}

func (d *dumper) stringValue(level int, v *StringValue) {
	if v == nil {
		d.printf(level, "<NULL SVAL>")
		return
	}
	switch v.Kind {
	case StringLiteral:
		d.printf(level, "%q", v.Literal)
	case StringFunction:
		d.functionCall(level, v.Function)
	default:
		d.printf(level, "<UNKNOWN SVAL TYPE %d>", int(v.Kind))
	}
}

func (d *dumper) functionCall(level int, f *FunctionCall) {
	if f == nil {
		d.printf(level, "<NULL FUNCTION>")
		return
	}
	d.printf(level, "FUNCTION %s (", f.Name)
	if f.Args != nil {
		for _, a := range f.Args.Argv {
			d.stringValue(level+1, a)
		}
	}
	d.printf(level, ")")
}
