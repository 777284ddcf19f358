package call

// Resolution describes how a lookup against a Resolver ended.
type Resolution int

const (
	// Unmatched means no candidate exists.
	Unmatched Resolution = iota
	// Exact means name and file matched.
	Exact
	// ByName means one side lacked a file and exactly one candidate shared the name.
	ByName
	// Ambiguous means one side lacked a file and several candidates shared the name.
	Ambiguous
)

func (r Resolution) String() string {
	switch r {
	case Exact:
		return "exact"
	case ByName:
		return "by-name"
	case Ambiguous:
		return "ambiguous"
	default:
		return "unmatched"
	}
}

// Resolver indexes a set of keys for identity reconciliation.
//
// Lookups match (name, file) exactly first. When the query has no file, or
// when the only candidates with that name have no file, the lookup falls back
// to the name and succeeds only if exactly one candidate carries it. Ambiguous
// name matches are never resolved.
type Resolver struct {
	exact  map[Key]struct{}
	byName map[string][]Key
}

// NewResolver indexes keys. Duplicates are ignored.
func NewResolver(keys []Key) *Resolver {
	r := &Resolver{
		exact:  make(map[Key]struct{}, len(keys)),
		byName: make(map[string][]Key),
	}
	for _, k := range keys {
		r.Add(k)
	}
	return r
}

// Add indexes one more key.
func (r *Resolver) Add(k Key) {
	if _, ok := r.exact[k]; ok {
		return
	}
	r.exact[k] = struct{}{}
	r.byName[k.Name] = append(r.byName[k.Name], k)
}

// Len returns the number of indexed keys.
func (r *Resolver) Len() int {
	return len(r.exact)
}

// Candidates returns every indexed key with the given name.
func (r *Resolver) Candidates(name string) []Key {
	return r.byName[name]
}

// Resolve finds the indexed key that q refers to.
func (r *Resolver) Resolve(q Key) (Key, Resolution) {
	if _, ok := r.exact[q]; ok {
		return q, Exact
	}

	candidates := r.byName[q.Name]
	if len(candidates) == 0 {
		return Key{}, Unmatched
	}

	if q.File != "" {
		// A file-qualified query only falls back onto file-less candidates.
		var fileless []Key
		for _, c := range candidates {
			if c.File == "" {
				fileless = append(fileless, c)
			}
		}
		candidates = fileless
		if len(candidates) == 0 {
			return Key{}, Unmatched
		}
	}

	if len(candidates) > 1 {
		return Key{}, Ambiguous
	}
	return candidates[0], ByName
}

// ResolveMutual resolves q like Resolve but accepts a name-only match only
// when the matched key, looked up in back, resolves to q again. back indexes
// the side q comes from. A one-directional name match is reported as Ambiguous.
func (r *Resolver) ResolveMutual(q Key, back *Resolver) (Key, Resolution) {
	k, res := r.Resolve(q)
	if res != ByName || back == nil {
		return k, res
	}
	if kb, resb := back.Resolve(k); resb != ByName || kb != q {
		return Key{}, Ambiguous
	}
	return k, ByName
}
