package plan

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mason/internal/world"
)

const watchtowerCUE = `
template: {
	name: "watchtower"
	modules: [
		{
			id: "foundation"
			ops: [
				{kind: "place", offset: {x: 0, y: 0, z: 0}, content: "stone"},
				{kind: "place", offset: {x: 1, y: 0, z: 0}, content: "stone"},
			]
		},
		{
			id: "walls"
			depends_on: ["foundation"]
			openings: [{x: 0, y: 1, z: 0}]
			ops: [
				{kind: "place", offset: {x: 0, y: 1, z: 1}, content: "stone_bricks"},
				{kind: "remove", offset: {x: 0, y: 2, z: 1}},
			]
		},
	]
}
`

func compileString(t *testing.T, src string) (*Macro, error) {
	t.Helper()
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	require.NoError(t, v.Err())
	return CompileTemplate(v.LookupPath(cue.ParsePath("template")))
}

// TestCompileTemplate_Basic compiles a two-module template and verifies
// structure, sequencing, and digest assignment.
func TestCompileTemplate_Basic(t *testing.T) {
	macro, err := compileString(t, watchtowerCUE)
	require.NoError(t, err)

	assert.Equal(t, "watchtower", macro.Name)
	require.Len(t, macro.Modules, 2)
	assert.NotEmpty(t, macro.TemplateDigest)

	foundation := macro.Modules[0]
	assert.Equal(t, "foundation", foundation.ID)
	assert.Equal(t, 0, foundation.Seq)
	require.Len(t, foundation.Ops, 2)
	assert.Equal(t, OpPlace, foundation.Ops[0].Kind)
	assert.Equal(t, world.ContentID("stone"), foundation.Ops[0].Content)

	walls := macro.Modules[1]
	assert.Equal(t, 1, walls.Seq)
	assert.Equal(t, []string{"foundation"}, walls.DependsOn)
	require.Len(t, walls.Openings, 1)
	assert.Equal(t, OpRemove, walls.Ops[1].Kind)
	assert.Equal(t, world.Empty, walls.Ops[1].Content)
}

// TestCompileTemplate_DigestDeterministic verifies independent compilations
// of the same source produce the same template digest.
func TestCompileTemplate_DigestDeterministic(t *testing.T) {
	first, err := compileString(t, watchtowerCUE)
	require.NoError(t, err)
	second, err := compileString(t, watchtowerCUE)
	require.NoError(t, err)

	assert.Equal(t, first.TemplateDigest, second.TemplateDigest)
}

// TestCompileTemplate_UnknownDependency rejects edges to missing modules.
func TestCompileTemplate_UnknownDependency(t *testing.T) {
	_, err := compileString(t, `
template: {
	name: "broken"
	modules: [
		{id: "a", depends_on: ["ghost"], ops: [{kind: "place", offset: {x: 0, y: 0, z: 0}, content: "stone"}]},
	]
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown module")
}

// TestCompileTemplate_DependencyCycle rejects cyclic plans.
func TestCompileTemplate_DependencyCycle(t *testing.T) {
	_, err := compileString(t, `
template: {
	name: "cyclic"
	modules: [
		{id: "a", depends_on: ["b"], ops: [{kind: "place", offset: {x: 0, y: 0, z: 0}, content: "stone"}]},
		{id: "b", depends_on: ["a"], ops: [{kind: "place", offset: {x: 1, y: 0, z: 0}, content: "stone"}]},
	]
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

// TestCompileTemplate_PlaceRequiresContent rejects place ops without content.
func TestCompileTemplate_PlaceRequiresContent(t *testing.T) {
	_, err := compileString(t, `
template: {
	name: "broken"
	modules: [
		{id: "a", ops: [{kind: "place", offset: {x: 0, y: 0, z: 0}}]},
	]
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires content")
}

// TestCompileTemplate_RemoveForbidsContent rejects remove ops with content.
func TestCompileTemplate_RemoveForbidsContent(t *testing.T) {
	_, err := compileString(t, `
template: {
	name: "broken"
	modules: [
		{id: "a", ops: [{kind: "remove", offset: {x: 0, y: 0, z: 0}, content: "stone"}]},
	]
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must not declare content")
}

// TestMacro_Ready verifies dependency-respecting module selection.
func TestMacro_Ready(t *testing.T) {
	macro, err := compileString(t, watchtowerCUE)
	require.NoError(t, err)

	ready := macro.Ready(map[string]bool{})
	require.Len(t, ready, 1)
	assert.Equal(t, "foundation", ready[0].ID)

	ready = macro.Ready(map[string]bool{"foundation": true})
	require.Len(t, ready, 1)
	assert.Equal(t, "walls", ready[0].ID)

	ready = macro.Ready(map[string]bool{"foundation": true, "walls": true})
	assert.Empty(t, ready)
}

// TestOp_ID_IndexDistinguishesDuplicates verifies repeated identical
// placements in one module get distinct content-addressed IDs.
func TestOp_ID_IndexDistinguishesDuplicates(t *testing.T) {
	op := Op{Kind: OpPlace, Offset: world.Pos{X: 1, Y: 2, Z: 3}, Content: "stone"}

	id0, err := op.ID("mod", 0)
	require.NoError(t, err)
	id1, err := op.ID("mod", 1)
	require.NoError(t, err)

	assert.NotEqual(t, id0, id1)

	again, err := op.ID("mod", 0)
	require.NoError(t, err)
	assert.Equal(t, id0, again)
}
