package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathToFindsEnclosingLoops(t *testing.T) {
	m, err := Build(copyWorkload(), nil)
	require.NoError(t, err)

	realizes := m.Collect(m.Funcs()[0].Body, func(e Expr) bool {
		return m.Kind(e) == KindScheduleBlockRealize
	})
	require.Len(t, realizes, 1)

	path := m.PathTo(realizes[0])
	require.NotEmpty(t, path)
	assert.Equal(t, realizes[0], path[len(path)-1])

	var loops []string
	for _, e := range path {
		if f, ok := m.AsFor(e); ok {
			v, _ := m.AsVar(f.Var)
			loops = append(loops, v.Name)
		}
	}
	assert.Equal(t, []string{"i", "j"}, loops)
}

func TestPathToUnreachable(t *testing.T) {
	m, err := Build(copyWorkload(), nil)
	require.NoError(t, err)

	orphan := m.Block()
	assert.Nil(t, m.PathTo(orphan))
}

func TestSubstituteRewritesReferences(t *testing.T) {
	m := NewModule(nil)
	i := m.Var("i", false)
	j := m.Var("j", false)
	store := m.Store("B", m.Load("A", i), i)
	body := m.Block(store)
	require.NoError(t, m.AddFunc("f", nil, body))

	m.Substitute(body, i, m.Add(j, m.Int(1)))

	assert.Equal(t, "B[(j + 1)] = A[(j + 1)]", DumpExpr(m, store))
}

func TestReplaceFunctionBody(t *testing.T) {
	m := NewModule(nil)
	body := m.Block()
	require.NoError(t, m.AddFunc("f", nil, body))

	repl := m.Block(m.Store("X", m.Int(0), m.Int(0)))
	m.Replace(body, repl)

	assert.Equal(t, repl, m.Funcs()[0].Body)
}

func TestWalkSkipsChildren(t *testing.T) {
	m, err := Build(copyWorkload(), nil)
	require.NoError(t, err)

	var kinds []Kind
	m.Walk(m.Funcs()[0].Body, func(e Expr) bool {
		kinds = append(kinds, m.Kind(e))
		return m.Kind(e) != KindFor
	})
	assert.Equal(t, []Kind{KindBlock, KindFor}, kinds)
}
