package trace

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/attack-surface/asm/internal/call"
	"github.com/attack-surface/asm/internal/telemetry"
)

// cflowLine matches one line of a cflow tree:
//
//	<indent>name() [<signature at file:line>][ (R)][:][ [see N]]
var cflowLine = regexp.MustCompile(`^(\s*)([^\s(]+)\(\)(?:\s+<(.*) at (\S+):(\d+)>)?(\s+\(R\))?(:)?(?:\s+\[see \d+\])?\s*$`)

// StaticLoader reads cflow call trees.
type StaticLoader struct {
	// Reverse is set when the tree was printed with cflow -r: top-level
	// entries are callees and their children are callers.
	Reverse bool

	Logger  *zap.Logger
	Metrics *telemetry.Metrics
}

// Load reads the static trace at path. An empty file yields an empty trace.
func (l *StaticLoader) Load(ctx context.Context, path string) (*Trace, error) {
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

// Parse reads a static trace from r. name is only used in log messages.
func (l *StaticLoader) Parse(r io.Reader, name string) (*Trace, error) {
	logger := telemetry.OrNop(l.Logger)
	b := newBuilder(Static)

	var (
		stack  []call.Call
		unit   int
		lineNo int
	)

	skip := func(reason, line string) {
		b.trace.Skipped++
		logger.Warn("skipping malformed static trace line",
			zap.String("trace", name),
			zap.Int("line", lineNo),
			zap.String("reason", reason),
			zap.String("text", truncate(line, 120)))
	}

	lines := newLineReader(r)
	for lines.Next() {
		lineNo++
		if lines.Oversized() {
			skip("line too long", "")
			continue
		}
		line := strings.TrimRight(lines.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		m := cflowLine.FindStringSubmatch(line)
		if m == nil {
			skip("unrecognized syntax", line)
			continue
		}

		indent := indentWidth(m[1])
		if indent > 0 && unit == 0 {
			unit = indent
		}
		depth := 0
		if indent > 0 {
			if indent%unit != 0 {
				skip("inconsistent indentation", line)
				continue
			}
			depth = indent / unit
		}
		if depth > len(stack) {
			skip("indentation skips a level", line)
			continue
		}

		c := call.New(m[2], m[4])
		stack = append(stack[:depth], c)
		b.addNode(c)

		if m[6] != "" {
			b.markRecursive(c)
		}

		if depth == 0 {
			continue
		}
		parent := stack[depth-1]
		if l.Reverse {
			b.addEdge(c, parent, 1)
		} else {
			b.addEdge(parent, c, 1)
		}
	}
	if err := lines.Err(); err != nil {
		return nil, fmt.Errorf("read static trace %s: %w", name, err)
	}

	l.Metrics.SkippedLines(string(Static), b.trace.Skipped)
	logger.Debug("loaded static trace",
		zap.String("trace", name),
		zap.Int("nodes", len(b.trace.Nodes)),
		zap.Int("edges", len(b.trace.Edges)),
		zap.Int("skipped", b.trace.Skipped))
	return b.trace, nil
}

// indentWidth counts leading whitespace, expanding tabs to 8 columns.
func indentWidth(s string) int {
	w := 0
	for _, r := range s {
		if r == '\t' {
			w += 8 - w%8
			continue
		}
		w++
	}
	return w
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
