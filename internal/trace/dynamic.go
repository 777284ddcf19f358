package trace

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ianlancetaylor/demangle"
	"go.uber.org/zap"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/telemetry"
)

// Dialect is the textual layout of a dynamic trace.
type Dialect int

const (
	// DialectUnknown asks the loader to detect the dialect from the content.
	DialectUnknown Dialect = iota
	// DialectFlat is a "caller callee count" table, one edge per line.
	DialectFlat
	// DialectGprof is the call-graph section of gprof -q -b [-l].
	DialectGprof
)

func (d Dialect) String() string {
	switch d {
	case DialectFlat:
		return "flat"
	case DialectGprof:
		return "gprof"
	default:
		return "unknown"
	}
}

var (
	gprofIndex    = regexp.MustCompile(`^\[\d+\]$`)
	gprofNumeric  = regexp.MustCompile(`^[\d.+/%]+$`)
	gprofLocation = regexp.MustCompile(`^(.*?)\s+\((\S+):\d+ @ [0-9a-fA-Fx]+\)$`)
	gprofCycle    = regexp.MustCompile(`\s*<cycle \d+>$`)
)

// DynamicLoader reads profiler call counts.
type DynamicLoader struct {
	// Dialect forces a layout; DialectUnknown auto-detects.
	Dialect Dialect

	// Demangle rewrites mangled symbol names to their source form.
	Demangle bool

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Load reads the dynamic trace at path. An empty file yields an empty trace.
func (l *DynamicLoader) Load(ctx context.Context, path string) (*Trace, error) {
	rc, err := openTrace(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Parse(rc, path)
}

// Parse reads a dynamic trace from r. name is only used in log messages.
func (l *DynamicLoader) Parse(r io.Reader, name string) (*Trace, error) {
	p := &dynamicParser{
		loader:  l,
		logger:  telemetry.OrNop(l.Logger),
		b:       newBuilder(Dynamic),
		name:    name,
		dialect: l.Dialect,
	}

	lines := newLineReader(r)
	for lines.Next() {
		p.lineNo++
		if p.done {
			continue
		}
		if lines.Oversized() {
			p.skip("line too long", "")
			continue
		}
		line := strings.TrimRight(lines.Text(), "\r")
		p.parseLine(line)
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("read dynamic trace %s: %w", name, err)
	}

	l.Metrics.SkippedLines(string(Dynamic), p.b.trace.Skipped)
	p.logger.Debug("loaded dynamic trace",
		zap.String("trace", name),
		zap.Stringer("dialect", p.dialect),
		zap.Int("nodes", len(p.b.trace.Nodes)),
		zap.Int("edges", len(p.b.trace.Edges)),
		zap.Int("skipped", p.b.trace.Skipped))
	return p.b.trace, nil
}

type dynamicParser struct {
	loader  *DynamicLoader
	logger  *zap.Logger
	b       *builder
	name    string
	lineNo  int
	dialect Dialect
	done    bool

	// gprof state
	inTable bool
	primary *call.Call
}

func (p *dynamicParser) parseLine(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if p.dialect == DialectUnknown {
		p.dialect = detectDialect(trimmed)
	}
	switch p.dialect {
	case DialectGprof:
		p.parseGprof(trimmed)
	default:
		p.parseFlat(trimmed)
	}
}

// detectDialect picks a dialect from the first non-blank line.
func detectDialect(line string) Dialect {
	for _, prefix := range []string{"Flat profile", "Call graph", "granularity:", "index", "["} {
		if strings.HasPrefix(line, prefix) {
			return DialectGprof
		}
	}
	return DialectFlat
}

func (p *dynamicParser) skip(reason, line string) {
	p.b.trace.Skipped++
	p.logger.Warn("skipping malformed dynamic trace line",
		zap.String("trace", p.name),
		zap.Int("line", p.lineNo),
		zap.String("reason", reason),
		zap.String("text", truncate(line, 120)))
}

// parseFlat handles "caller callee count". Names may carry a file as name@file.
func (p *dynamicParser) parseFlat(line string) {
	if strings.HasPrefix(line, "#") {
		return
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		p.skip("expected caller, callee and count", line)
		return
	}
	count, err := strconv.Atoi(fields[2])
	if err != nil || count < 0 {
		p.skip("invalid call count", line)
		return
	}

	caller := p.call(call.ParseKey(fields[0]))
	callee := p.call(call.ParseKey(fields[1]))
	if caller.Name == "" || callee.Name == "" {
		p.skip("empty symbol name", line)
		return
	}
	p.b.addEdge(caller, callee, count)
}

// parseGprof handles one line of the gprof call-graph section. Each block
// lists callers above the primary line and callees below it; only the
// callee lines are turned into edges since every caller line reappears as
// a callee line in the caller's own block.
func (p *dynamicParser) parseGprof(line string) {
	switch {
	case strings.HasPrefix(line, "Index by function name"):
		p.done = true
		return
	case strings.HasPrefix(line, "index") && strings.Contains(line, "name"):
		p.inTable = true
		p.primary = nil
		return
	case !p.inTable:
		return
	case strings.HasPrefix(line, "---"):
		p.primary = nil
		return
	case strings.Contains(line, "<spontaneous>"):
		return
	}

	fields := strings.Fields(line)
	if len(fields) < 2 || !gprofIndex.MatchString(fields[len(fields)-1]) {
		p.skip("missing call-graph index", line)
		return
	}
	fields = fields[:len(fields)-1]

	isPrimary := gprofIndex.MatchString(fields[0])
	if isPrimary {
		fields = fields[1:]
	}

	var numeric []string
	for len(fields) > 0 && gprofNumeric.MatchString(fields[0]) {
		numeric = append(numeric, fields[0])
		fields = fields[1:]
	}
	if len(fields) == 0 {
		p.skip("missing symbol name", line)
		return
	}
	symbol := strings.Join(fields, " ")

	// Cycle pseudo-nodes aggregate their members and are not functions.
	if strings.HasPrefix(symbol, "<cycle ") {
		if isPrimary {
			p.primary = nil
		}
		return
	}

	c := p.call(parseGprofSymbol(symbol))
	if isPrimary {
		p.b.addNode(c)
		p.primary = &c
		return
	}
	if p.primary == nil {
		// A caller line above the primary.
		return
	}

	count, ok := gprofCount(numeric)
	if !ok {
		p.skip("invalid call count", line)
		return
	}
	if c.Key() == p.primary.Key() {
		p.b.markRecursive(c)
	}
	p.b.addEdge(*p.primary, c, count)
}

// parseGprofSymbol splits "name <cycle N> (file.c:12 @ 4011a0)" into a key.
func parseGprofSymbol(symbol string) call.Key {
	var file string
	if m := gprofLocation.FindStringSubmatch(symbol); m != nil {
		symbol, file = m[1], m[2]
	}
	symbol = gprofCycle.ReplaceAllString(symbol, "")
	return call.Key{Name: strings.TrimSpace(symbol), File: file}
}

// gprofCount extracts the call count from the "called" column: n/m for
// callee lines, n+m when recursive calls are reported separately.
func gprofCount(numeric []string) (int, bool) {
	if len(numeric) == 0 {
		return 0, false
	}
	last := numeric[len(numeric)-1]
	if i := strings.IndexByte(last, '/'); i >= 0 {
		last = last[:i]
	}
	if strings.Contains(last, ".") {
		// Only time columns present; gprof omits counts for some arcs.
		return 1, true
	}
	total := 0
	for _, part := range strings.Split(last, "+") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0, false
		}
		total += n
	}
	return total, true
}

func (p *dynamicParser) call(k call.Key) call.Call {
	name := k.Name
	if p.loader.Demangle {
		if d, err := demangle.ToString(name); err == nil {
			name = d
		}
	}
	return call.New(name, k.File)
}
