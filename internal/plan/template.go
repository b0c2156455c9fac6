package plan

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/mason/internal/world"
)

// CompileTemplate parses a CUE value into a Macro plan.
// Uses the CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the template struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`template: { name: "watchtower", modules: [...] }`)
//	macro, err := CompileTemplate(v.LookupPath(cue.ParsePath("template")))
func CompileTemplate(v cue.Value) (*Macro, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	macro := &Macro{}

	nameVal := v.LookupPath(cue.ParsePath("name"))
	if !nameVal.Exists() {
		return nil, &CompileError{Field: "name", Message: "name is required", Pos: v.Pos()}
	}
	name, err := nameVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	macro.Name = name

	modsVal := v.LookupPath(cue.ParsePath("modules"))
	if !modsVal.Exists() {
		return nil, &CompileError{Field: "modules", Message: "modules is required", Pos: v.Pos()}
	}

	iter, err := modsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	seq := 0
	for iter.Next() {
		mod, err := parseModule(iter.Value(), seq)
		if err != nil {
			return nil, err
		}
		macro.Modules = append(macro.Modules, *mod)
		seq++
	}

	if len(macro.Modules) == 0 {
		return nil, &CompileError{Field: "modules", Message: "at least one module is required", Pos: modsVal.Pos()}
	}

	if err := validateDependencies(macro.Modules); err != nil {
		return nil, &CompileError{Field: "modules", Message: err.Error(), Pos: modsVal.Pos()}
	}

	digest, err := computeTemplateDigest(macro.Modules)
	if err != nil {
		return nil, fmt.Errorf("compute template digest: %w", err)
	}
	macro.TemplateDigest = digest

	return macro, nil
}

// LoadTemplateFile reads and compiles a CUE template file from disk.
// The file must define a top-level "template" struct.
func LoadTemplateFile(path string) (*Macro, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	tpl := v.LookupPath(cue.ParsePath("template"))
	if !tpl.Exists() {
		return nil, &CompileError{Field: "template", Message: "top-level template struct is required", Pos: v.Pos()}
	}
	return CompileTemplate(tpl)
}

func parseModule(v cue.Value, seq int) (*Module, error) {
	mod := &Module{Seq: seq}

	idVal := v.LookupPath(cue.ParsePath("id"))
	if !idVal.Exists() {
		return nil, &CompileError{Field: "id", Message: "module id is required", Pos: v.Pos()}
	}
	id, err := idVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	if id == "" {
		return nil, &CompileError{Field: "id", Message: "module id must be non-empty", Pos: idVal.Pos()}
	}
	mod.ID = id

	if depsVal := v.LookupPath(cue.ParsePath("depends_on")); depsVal.Exists() {
		iter, err := depsVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			dep, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			mod.DependsOn = append(mod.DependsOn, dep)
		}
	}

	if openVal := v.LookupPath(cue.ParsePath("openings")); openVal.Exists() {
		iter, err := openVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			p, err := parsePos(iter.Value())
			if err != nil {
				return nil, err
			}
			mod.Openings = append(mod.Openings, p)
		}
	}

	opsVal := v.LookupPath(cue.ParsePath("ops"))
	if !opsVal.Exists() {
		return nil, &CompileError{Field: "ops", Message: fmt.Sprintf("module %q: ops is required", id), Pos: v.Pos()}
	}
	iter, err := opsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		op, err := parseOp(iter.Value(), id)
		if err != nil {
			return nil, err
		}
		mod.Ops = append(mod.Ops, op)
	}
	if len(mod.Ops) == 0 {
		return nil, &CompileError{Field: "ops", Message: fmt.Sprintf("module %q: at least one op is required", id), Pos: opsVal.Pos()}
	}

	return mod, nil
}

func parseOp(v cue.Value, moduleID string) (Op, error) {
	var op Op

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return op, &CompileError{Field: "kind", Message: fmt.Sprintf("module %q: op kind is required", moduleID), Pos: v.Pos()}
	}
	kind, err := kindVal.String()
	if err != nil {
		return op, formatCUEError(err)
	}
	switch OpKind(kind) {
	case OpPlace, OpRemove:
		op.Kind = OpKind(kind)
	default:
		return op, &CompileError{Field: "kind", Message: fmt.Sprintf("module %q: unknown op kind %q", moduleID, kind), Pos: kindVal.Pos()}
	}

	offVal := v.LookupPath(cue.ParsePath("offset"))
	if !offVal.Exists() {
		return op, &CompileError{Field: "offset", Message: fmt.Sprintf("module %q: op offset is required", moduleID), Pos: v.Pos()}
	}
	off, err := parsePos(offVal)
	if err != nil {
		return op, err
	}
	op.Offset = off

	contentVal := v.LookupPath(cue.ParsePath("content"))
	if op.Kind == OpPlace {
		if !contentVal.Exists() {
			return op, &CompileError{Field: "content", Message: fmt.Sprintf("module %q: place op requires content", moduleID), Pos: v.Pos()}
		}
		content, err := contentVal.String()
		if err != nil {
			return op, formatCUEError(err)
		}
		if content == "" {
			return op, &CompileError{Field: "content", Message: fmt.Sprintf("module %q: place op content must be non-empty", moduleID), Pos: contentVal.Pos()}
		}
		op.Content = world.ContentID(content)
	} else if contentVal.Exists() {
		return op, &CompileError{Field: "content", Message: fmt.Sprintf("module %q: remove op must not declare content", moduleID), Pos: contentVal.Pos()}
	}

	return op, nil
}

func parsePos(v cue.Value) (world.Pos, error) {
	var p world.Pos
	for _, axis := range []struct {
		name string
		dst  *int64
	}{
		{"x", &p.X},
		{"y", &p.Y},
		{"z", &p.Z},
	} {
		av := v.LookupPath(cue.ParsePath(axis.name))
		if !av.Exists() {
			return p, &CompileError{Field: axis.name, Message: "position axis is required", Pos: v.Pos()}
		}
		n, err := av.Int64()
		if err != nil {
			return p, formatCUEError(err)
		}
		*axis.dst = n
	}
	return p, nil
}

// CompileError is a template compilation error with CUE position info.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
