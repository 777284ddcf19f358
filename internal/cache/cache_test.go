package cache

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/graph"
	"github.com/attack-surface/asm/internal/telemetry"
)

func setupTestCache(t *testing.T) *Cache {
	t.Helper()

	cache, err := Open(t.TempDir(), nil, telemetry.NewMetrics())
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })
	return cache
}

func sampleGraph() *graph.Graph {
	g := graph.New(call.Function)
	g.AddEdge(call.New("main", "main.c"), call.New("parse", "parse.c"), graph.SourceStatic, 1)
	g.AddEdge(call.New("parse", "parse.c"), call.New("memcpy", ""), graph.SourceDynamic, 4)
	g.Recompute()
	return g
}

var testKey = Key{Subject: "ffmpeg", Release: "0.6.0", Granularity: call.Function}

func TestCacheOpenClose(t *testing.T) {
	dir := t.TempDir()

	cache, err := Open(dir, nil, nil)
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}

	expectedPath := filepath.Join(dir, "cache.db")
	if cache.Path() != expectedPath {
		t.Errorf("path = %q, want %q", cache.Path(), expectedPath)
	}

	if err := cache.Close(); err != nil {
		t.Errorf("close: %v", err)
	}

	// Reopen should work
	cache2, err := Open(dir, nil, nil)
	if err != nil {
		t.Fatalf("reopen cache: %v", err)
	}
	defer cache2.Close()
}

func TestCachePutGet(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, testKey); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}

	g := sampleGraph()
	if err := cache.Put(ctx, testKey, g); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := cache.Get(ctx, testKey)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Len() != g.Len() || got.EdgeCount() != g.EdgeCount() {
		t.Errorf("got %d nodes %d edges, want %d and %d", got.Len(), got.EdgeCount(), g.Len(), g.EdgeCount())
	}
	if !reflect.DeepEqual(got.Nodes(), g.Nodes()) {
		t.Errorf("nodes differ after round trip")
	}

	other := testKey
	other.Granularity = call.File
	if _, ok, _ := cache.Get(ctx, other); ok {
		t.Error("file granularity should miss")
	}
}

func TestCacheVersionMismatchIsMiss(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	if err := cache.Put(ctx, testKey, sampleGraph()); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := cache.db.Exec("UPDATE graphs SET format_version = ?", graph.FormatVersion+1); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, ok, err := cache.Get(ctx, testKey); err != nil || ok {
		t.Errorf("version mismatch: ok=%v err=%v", ok, err)
	}

	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Graphs != 1 || stats.Stale != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCacheCorruptPayloadIsMiss(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	if err := cache.Put(ctx, testKey, sampleGraph()); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := cache.db.Exec("UPDATE graphs SET payload = ?", []byte("not a graph")); err != nil {
		t.Fatalf("update: %v", err)
	}

	if _, ok, err := cache.Get(ctx, testKey); err != nil || ok {
		t.Errorf("corrupt payload: ok=%v err=%v", ok, err)
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	other := Key{Subject: "curl", Release: "7.50.0", Granularity: call.Function}
	for _, k := range []Key{testKey, other} {
		if err := cache.Put(ctx, k, sampleGraph()); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	entries, err := cache.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != other || entries[1].Key != testKey {
		t.Errorf("entries = %+v", entries)
	}

	if err := cache.Delete(ctx, testKey); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := cache.Get(ctx, testKey); ok {
		t.Error("deleted entry still cached")
	}
	if _, ok, _ := cache.Get(ctx, other); !ok {
		t.Error("unrelated entry was deleted")
	}

	if err := cache.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	stats, err := cache.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Graphs != 0 || stats.Inputs != 0 {
		t.Errorf("stats after clear = %+v", stats)
	}
}

func TestChangedInputs(t *testing.T) {
	cache := setupTestCache(t)
	ctx := context.Background()

	dir := t.TempDir()
	static := filepath.Join(dir, "cflow.txt")
	dynamic := filepath.Join(dir, "gprof.txt")
	writeFile(t, static, "main() <main at main.c:1>:\n")
	writeFile(t, dynamic, "main foo 3\n")

	inputs, err := HashInputs([]string{static, dynamic})
	if err != nil {
		t.Fatalf("hash inputs: %v", err)
	}

	changed, err := cache.ChangedInputs(ctx, testKey, inputs)
	if err != nil {
		t.Fatalf("changed inputs: %v", err)
	}
	if len(changed) != 2 {
		t.Errorf("unrecorded inputs should all be changed, got %v", changed)
	}

	if err := cache.RecordInputs(ctx, testKey, inputs); err != nil {
		t.Fatalf("record inputs: %v", err)
	}
	changed, err = cache.ChangedInputs(ctx, testKey, inputs)
	if err != nil || len(changed) != 0 {
		t.Errorf("unchanged inputs: %v %v", changed, err)
	}

	writeFile(t, dynamic, "main foo 4\n")
	inputs, err = HashInputs([]string{static, dynamic})
	if err != nil {
		t.Fatalf("hash inputs: %v", err)
	}
	changed, _ = cache.ChangedInputs(ctx, testKey, inputs)
	if !reflect.DeepEqual(changed, []string{dynamic}) {
		t.Errorf("changed = %v, want [%s]", changed, dynamic)
	}

	changed, _ = cache.ChangedInputs(ctx, testKey, inputs[:1])
	if !reflect.DeepEqual(changed, []string{dynamic}) {
		t.Errorf("dropped input should be reported, got %v", changed)
	}

	if _, err := HashInputs([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing input")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
