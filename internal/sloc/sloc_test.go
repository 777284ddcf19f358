package sloc

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/trace"
)

func TestMapLookup(t *testing.T) {
	m, err := ReadCSV(strings.NewReader(`name,file,sloc
main,main.c,20
decode,a.c,10
decode,b.c,12
helper,util.c,4
`))
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name string
		key  call.Key
		g    call.Granularity
		want int
		ok   bool
	}{
		{"exact", call.Key{Name: "main", File: "main.c"}, call.Function, 20, true},
		{"unique name", call.Key{Name: "helper"}, call.Function, 4, true},
		{"ambiguous name", call.Key{Name: "decode"}, call.Function, 0, false},
		{"file total", call.Key{File: "main.c"}, call.File, 20, true},
		{"unknown file", call.Key{File: "x.c"}, call.File, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok, err := m.SLOC(ctx, tt.key, tt.g)
			require.NoError(t, err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadCSVRejectsShortRows(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("main,main.c,20\nbroken\n"))
	assert.Error(t, err)
}

func setupDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sloc.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE function (name TEXT, file TEXT, sloc INTEGER);
		CREATE TABLE file (name TEXT, sloc INTEGER);
		INSERT INTO function VALUES ('main', 'main.c', 20), ('decode', 'a.c', 10), ('decode', 'b.c', 12), ('helper', 'util.c', 4);
		INSERT INTO file VALUES ('main.c', 25), ('a.c', 40);
	`)
	require.NoError(t, err)
	return path
}

func TestDBLookup(t *testing.T) {
	db, err := OpenDB(setupDB(t))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	v, ok, err := db.SLOC(ctx, call.Key{Name: "main", File: "main.c"}, call.Function)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 20, v)

	v, ok, err = db.SLOC(ctx, call.Key{Name: "helper"}, call.Function)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4, v)

	_, ok, err = db.SLOC(ctx, call.Key{Name: "decode"}, call.Function)
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = db.SLOC(ctx, call.Key{File: "a.c"}, call.File)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 40, v)
}

func TestAssign(t *testing.T) {
	tr := &trace.Trace{Source: trace.Static}
	main, helper := call.New("main", "main.c"), call.New("helper", "")
	tr.Nodes = []call.Call{main, helper, call.New("printf", "")}
	tr.Edges = []trace.Edge{{Caller: main, Callee: helper, Weight: 1}}
	g := graph.FromTrace(tr, call.Function)

	m := NewMap()
	m.AddFunction(call.Key{Name: "main", File: "main.c"}, 20)
	m.AddFunction(call.Key{Name: "helper", File: "util.c"}, 4)

	n, err := Assign(context.Background(), g, m)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	node, err := g.Node(call.Key{Name: "helper"})
	require.NoError(t, err)
	require.NotNil(t, node.Attrs.SLOC)
	assert.Equal(t, 4, *node.Attrs.SLOC)

	node, err = g.Node(call.Key{Name: "printf"})
	require.NoError(t, err)
	assert.Nil(t, node.Attrs.SLOC)
}
