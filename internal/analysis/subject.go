package analysis

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrUnknownSubject is returned by LookupSubject for unregistered names.
var ErrUnknownSubject = errors.New("unknown subject")

// Subject describes where the artifacts of one analyzed project live. The
// artifacts themselves (cflow output, gprof profiles, SLOC database, curated
// lists) are produced outside asm.
type Subject interface {
	// Name is the registry key, e.g. "ffmpeg".
	Name() string

	// Paths returns the artifact locations of a release under root.
	Paths(root, release string) Paths
}

// Paths are the artifact locations of one release. Optional files that do
// not exist are skipped.
type Paths struct {
	// Dir is the release directory.
	Dir string

	// Static is the cflow -b -r call tree.
	Static string
	// StaticReverse reports whether Static was printed with cflow -r.
	StaticReverse bool

	// DynamicDir holds one gprof call graph per profiling run. Empty when
	// the subject has no dynamic traces.
	DynamicDir string

	SLOCDB  string
	SLOCCSV string

	Defenses          string
	Dangerous         string
	Vulnerable        string
	BecomesVulnerable string
	Tested            string
}

// DynamicFiles lists the trace files in DynamicDir in name order.
func (p Paths) DynamicFiles() ([]string, error) {
	if p.DynamicDir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(p.DynamicDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list dynamic traces: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(p.DynamicDir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// releaseSubject lays a release out as <root>/<dir>/v<release>/ the way the
// data collection scripts leave it.
type releaseSubject struct {
	name    string
	dir     string
	dynamic bool
}

func (s *releaseSubject) Name() string { return s.name }

func (s *releaseSubject) Paths(root, release string) Paths {
	dir := filepath.Join(root, s.dir, "v"+release)
	p := Paths{
		Dir:               dir,
		Static:            filepath.Join(dir, "cflow.txt"),
		StaticReverse:     true,
		SLOCDB:            filepath.Join(dir, "sloc.sqlite"),
		SLOCCSV:           filepath.Join(dir, "sloc.csv"),
		Defenses:          filepath.Join(root, s.dir, "defenses.csv"),
		Dangerous:         filepath.Join(root, s.dir, "dangerous.csv"),
		Vulnerable:        filepath.Join(dir, "vulnerable.csv"),
		BecomesVulnerable: filepath.Join(dir, "becomes_vulnerable.csv"),
		Tested:            filepath.Join(dir, "tested.csv"),
	}
	if s.dynamic {
		p.DynamicDir = filepath.Join(dir, "gprof")
	}
	return p
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Subject{}
)

func init() {
	RegisterSubject(&releaseSubject{name: "ffmpeg", dir: "FFmpeg", dynamic: true})
	RegisterSubject(&releaseSubject{name: "curl", dir: "cURL", dynamic: true})
	// Wireshark was only analyzed statically.
	RegisterSubject(&releaseSubject{name: "wireshark", dir: "Wireshark"})
}

// RegisterSubject adds s to the registry, replacing a subject of the same
// name.
func RegisterSubject(s Subject) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(s.Name())] = s
}

// LookupSubject returns the registered subject called name.
func LookupSubject(name string) (Subject, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownSubject, name, strings.Join(subjectNames(), ", "))
	}
	return s, nil
}

// Subjects returns the registered subject names in order.
func Subjects() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return subjectNames()
}

func subjectNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
