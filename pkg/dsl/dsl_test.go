package dsl

import (
	"testing"

	"github.com/CustodyZero/archon/pkg/taxonomy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileStructured_Basic(t *testing.T) {
	drr, err := CompileStructured(Rule{
		ID:             "r1",
		CapabilityKind: taxonomy.FSRead,
		Effect:         Allow,
		Conditions: []Condition{
			{Field: "capability.params.path", Op: Matches, Value: "./docs/**"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", drr.ID)
	assert.NotEmpty(t, drr.IRHash)
}

func TestCompileStructured_UnknownKind(t *testing.T) {
	_, err := CompileStructured(Rule{
		ID:             "r1",
		CapabilityKind: taxonomy.Kind("fs.teleport"),
		Effect:         Allow,
		Conditions:     []Condition{{Field: "capability.params.path", Op: Matches, Value: "*"}},
	})
	require.ErrorIs(t, err, ErrUnknownCapabilityKind)
}

func TestCompileStructured_EmptyConditions(t *testing.T) {
	_, err := CompileStructured(Rule{ID: "r1", CapabilityKind: taxonomy.FSRead, Effect: Allow})
	require.ErrorIs(t, err, ErrEmptyConditions)
}

func TestCompileStructured_UnknownField(t *testing.T) {
	_, err := CompileStructured(Rule{
		ID:             "r1",
		CapabilityKind: taxonomy.FSRead,
		Effect:         Allow,
		Conditions:     []Condition{{Field: "agent.id", Op: Matches, Value: "*"}},
	})
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestCompileStructured_UnknownOperator(t *testing.T) {
	_, err := CompileStructured(Rule{
		ID:             "r1",
		CapabilityKind: taxonomy.FSRead,
		Effect:         Allow,
		Conditions:     []Condition{{Field: "capability.params.path", Op: Op("regex"), Value: ".*"}},
	})
	require.ErrorIs(t, err, ErrUnknownOperator)
}

// TestIDExcludedFromIRHash verifies that two rules differing only by operator-
// assigned id share the same ir_hash (spec.md §3).
func TestIDExcludedFromIRHash(t *testing.T) {
	a, err := CompileStructured(Rule{
		ID: "rule-a", CapabilityKind: taxonomy.FSRead, Effect: Allow,
		Conditions: []Condition{{Field: "capability.params.path", Op: Matches, Value: "./docs/**"}},
	})
	require.NoError(t, err)

	b, err := CompileStructured(Rule{
		ID: "rule-b", CapabilityKind: taxonomy.FSRead, Effect: Allow,
		Conditions: []Condition{{Field: "capability.params.path", Op: Matches, Value: "./docs/**"}},
	})
	require.NoError(t, err)

	assert.Equal(t, a.IRHash, b.IRHash)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestConditionOrderDoesNotAffectHash(t *testing.T) {
	a, err := CompileStructured(Rule{
		ID: "r", CapabilityKind: taxonomy.FSRead, Effect: Allow,
		Conditions: []Condition{
			{Field: "capability.params.path", Op: Matches, Value: "./docs/**"},
			{Field: "capability.params.ext", Op: Matches, Value: "*.md"},
		},
	})
	require.NoError(t, err)

	b, err := CompileStructured(Rule{
		ID: "r", CapabilityKind: taxonomy.FSRead, Effect: Allow,
		Conditions: []Condition{
			{Field: "capability.params.ext", Op: Matches, Value: "*.md"},
			{Field: "capability.params.path", Op: Matches, Value: "./docs/**"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, a.IRHash, b.IRHash)
}

func TestCompileDSL_EquivalentToStructured(t *testing.T) {
	src := `allow fs.read where capability.params.path matches "./docs/**"`
	fromDSL, err := CompileDSL("r1", src)
	require.NoError(t, err)

	fromStructured, err := CompileStructured(Rule{
		ID:             "r1",
		CapabilityKind: taxonomy.FSRead,
		Effect:         Allow,
		Conditions: []Condition{
			{Field: "capability.params.path", Op: Matches, Value: "./docs/**"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, fromStructured.IRHash, fromDSL.IRHash)
}

func TestCompileDSL_MultipleConditions(t *testing.T) {
	src := `deny fs.read where capability.params.path matches "./docs/secret.**" and capability.params.ext matches "*.txt"`
	drr, err := CompileDSL("r2", src)
	require.NoError(t, err)
	assert.Equal(t, Deny, drr.Effect)
	assert.Len(t, drr.Conditions, 2)
}

func TestCompileDSL_SyntaxErrors(t *testing.T) {
	cases := []string{
		``,
		`maybe fs.read where capability.params.path matches "*"`,
		`allow fs.teleport where capability.params.path matches "*"`,
		`allow fs.read capability.params.path matches "*"`, // missing "where"
		`allow fs.read where capability.params.path contains "*"`,
		`allow fs.read where capability.params.path matches unquoted`,
		`allow fs.read where capability.params.path matches "*" and`,
	}
	for _, src := range cases {
		_, err := CompileDSL("r", src)
		assert.Error(t, err, "source: %q", src)
	}
}

func TestCompileDSL_UnknownField(t *testing.T) {
	_, err := CompileDSL("r", `allow fs.read where agent.id matches "*"`)
	require.ErrorIs(t, err, ErrUnknownField)
}
