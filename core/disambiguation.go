package core

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/signalsfoundry/meshtopo/model"
)

// ResolutionStatus describes how a prefix occurrence was resolved.
type ResolutionStatus string

const (
	// StatusResolved means one candidate at or above the confidence threshold.
	StatusResolved ResolutionStatus = "resolved"
	// StatusUncertain means one top candidate below the confidence threshold.
	StatusUncertain ResolutionStatus = "uncertain"
	// StatusAmbiguous means two or more candidates tied for the top score.
	StatusAmbiguous ResolutionStatus = "ambiguous"
	// StatusUnresolved means no directory entry carries the prefix.
	StatusUnresolved ResolutionStatus = "unresolved"
)

const tieEpsilon = 1e-9

// Candidate is one full hash that could stand behind a prefix.
type Candidate struct {
	Hash        string  `json:"hash"`
	Probability float64 `json:"probability"`
}

// CandidateSet is the averaged distribution over the candidates of one
// prefix across every occurrence that needed scoring.
type CandidateSet struct {
	Prefix      string      `json:"prefix"`
	Candidates  []Candidate `json:"candidates"`
	Occurrences int         `json:"occurrences"`
}

// ResolvedHop is one element of a disambiguated chain.
type ResolvedHop struct {
	Prefix     string
	Hashes     []string
	Confidence float64
	Status     ResolutionStatus
}

// Certain reports whether the hop counts towards certain edge evidence.
func (h ResolvedHop) Certain() bool {
	return h.Status == StatusResolved && len(h.Hashes) == 1
}

// DisambiguatedPath is a packet's chain from source to local with every
// hop resolved as far as the evidence allows.
type DisambiguatedPath struct {
	PacketHash string
	Timestamp  float64
	SNR        *float64
	Direct     bool
	// Source is the resolved source hash, empty when unknown.
	Source string
	Chain  []ResolvedHop
}

// Disambiguator resolves hop prefixes to full hashes.
type Disambiguator struct {
	cfg   Config
	local string

	entries  map[string]model.Neighbor
	byPrefix map[string][]string
	byName   map[string][]string

	anchors    map[string]map[int]int
	certainAdj map[string]map[string]int
	geo        map[string]float64

	sourceCache map[string]string
	hopCache    map[string]scoredHop
	sets        map[string]*candidateTally
}

type scoredHop struct {
	hop   ResolvedHop
	probs []float64
}

type candidateTally struct {
	sums        map[string]float64
	occurrences int
}

// NewDisambiguator indexes the directory and gathers the anchor and
// adjacency evidence the scoring relies on.
func NewDisambiguator(dir model.NeighborDirectory, reg *PathRegistry, cfg Config) *Disambiguator {
	d := &Disambiguator{
		cfg:         cfg,
		local:       cfg.LocalHash,
		entries:     make(map[string]model.Neighbor, len(dir)),
		byPrefix:    make(map[string][]string),
		byName:      make(map[string][]string),
		anchors:     make(map[string]map[int]int),
		certainAdj:  make(map[string]map[string]int),
		geo:         make(map[string]float64),
		sourceCache: make(map[string]string),
		hopCache:    make(map[string]scoredHop),
		sets:        make(map[string]*candidateTally),
	}

	// Keys differing only in case fold onto one hash; sorted order makes
	// the surviving entry the same on every run.
	keys := make([]string, 0, len(dir))
	for key := range dir {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		n := dir[key]
		hash := strings.ToUpper(strings.TrimSpace(n.Hash))
		if hash == "" {
			hash = strings.ToUpper(strings.TrimSpace(key))
		}
		if hash == "" || hash == d.local {
			continue
		}
		n.Hash = hash
		d.entries[hash] = n
	}
	for hash, n := range d.entries {
		p := PrefixOf(hash, cfg.PrefixLength)
		d.byPrefix[p] = append(d.byPrefix[p], hash)
		if name := strings.ToUpper(strings.TrimSpace(n.Name)); name != "" {
			d.byName[name] = append(d.byName[name], hash)
		}
		if cfg.LocalPosition != nil {
			if pos, ok := latLonFrom(n.Latitude, n.Longitude); ok {
				d.geo[hash] = 1 / (1 + cfg.LocalPosition.DistanceKm(pos))
			}
		}
	}
	for _, list := range d.byPrefix {
		sort.Strings(list)
	}
	for _, list := range d.byName {
		sort.Strings(list)
	}

	if reg != nil {
		d.gatherEvidence(reg.Paths())
	}
	return d
}

// gatherEvidence records where sources were seen and which adjacencies
// are known without any scoring.
func (d *Disambiguator) gatherEvidence(paths []ObservedPath) {
	for _, p := range paths {
		src, hasSrc := d.ResolveSource(p.Source)
		if hasSrc {
			bump(d.anchors, src, len(p.Hops)+1)
		}

		prev := ""
		if hasSrc {
			prev = src
		}
		for _, h := range p.Hops {
			cur := ""
			if c := d.byPrefix[h]; len(c) == 1 {
				cur = c[0]
			}
			if prev != "" && cur != "" && prev != cur {
				d.addCertainAdj(prev, cur)
			}
			prev = cur
		}
		if prev != "" && d.local != "" && prev != d.local {
			d.addCertainAdj(prev, d.local)
		}
	}
}

func bump(m map[string]map[int]int, key string, dist int) {
	inner, ok := m[key]
	if !ok {
		inner = make(map[int]int)
		m[key] = inner
	}
	inner[dist]++
}

func (d *Disambiguator) addCertainAdj(a, b string) {
	for _, pair := range [2][2]string{{a, b}, {b, a}} {
		inner, ok := d.certainAdj[pair[0]]
		if !ok {
			inner = make(map[string]int)
			d.certainAdj[pair[0]] = inner
		}
		inner[pair[1]]++
	}
}

// ResolveSource maps a packet's source field to a full hash. It accepts
// a full hash, a neighbour name, or a prefix that matches exactly one
// directory entry. The local node never resolves as a source.
func (d *Disambiguator) ResolveSource(token string) (string, bool) {
	t := strings.ToUpper(strings.TrimSpace(token))
	if t == "" || t == d.local {
		return "", false
	}
	if hash, ok := d.sourceCache[t]; ok {
		return hash, hash != ""
	}

	hash := ""
	switch {
	case d.hasEntry(t):
		hash = t
	case len(d.byName[t]) == 1:
		hash = d.byName[t][0]
	case len(t) >= d.cfg.PrefixLength:
		var match []string
		for _, h := range d.byPrefix[PrefixOf(t, d.cfg.PrefixLength)] {
			if strings.HasPrefix(h, t) {
				match = append(match, h)
			}
		}
		if len(match) == 1 {
			hash = match[0]
		}
	}
	d.sourceCache[t] = hash
	return hash, hash != ""
}

func (d *Disambiguator) hasEntry(hash string) bool {
	_, ok := d.entries[hash]
	return ok
}

// Resolve disambiguates every hop of p and frames the result as a chain
// from the resolved source (when known) to the local node.
func (d *Disambiguator) Resolve(p ObservedPath) DisambiguatedPath {
	out := DisambiguatedPath{
		PacketHash: p.PacketHash,
		Timestamp:  p.Timestamp,
		SNR:        p.SNR,
		Direct:     p.Direct(),
		Chain:      make([]ResolvedHop, 0, len(p.Hops)+2),
	}
	src, hasSrc := d.ResolveSource(p.Source)
	if hasSrc {
		out.Source = src
		out.Chain = append(out.Chain, certainHop(src, d.cfg.PrefixLength))
	}

	for i := range p.Hops {
		left := src
		if i > 0 {
			left = d.singleton(p.Hops[i-1])
		}
		right := d.local
		if i < len(p.Hops)-1 {
			right = d.singleton(p.Hops[i+1])
		}
		out.Chain = append(out.Chain, d.resolveHop(p.Hops[i], p.DistanceAt(i), left, right))
	}

	if d.local != "" {
		out.Chain = append(out.Chain, certainHop(d.local, d.cfg.PrefixLength))
	}
	return out
}

func certainHop(hash string, prefixLen int) ResolvedHop {
	return ResolvedHop{
		Prefix:     PrefixOf(hash, prefixLen),
		Hashes:     []string{hash},
		Confidence: 1,
		Status:     StatusResolved,
	}
}

func (d *Disambiguator) singleton(prefix string) string {
	if c := d.byPrefix[prefix]; len(c) == 1 {
		return c[0]
	}
	return ""
}

func (d *Disambiguator) resolveHop(prefix string, dist int, left, right string) ResolvedHop {
	cands := d.byPrefix[prefix]
	switch len(cands) {
	case 0:
		return ResolvedHop{Prefix: prefix, Status: StatusUnresolved}
	case 1:
		return ResolvedHop{Prefix: prefix, Hashes: []string{cands[0]}, Confidence: 1, Status: StatusResolved}
	}

	key := fmt.Sprintf("%s|%d|%s|%s", prefix, dist, left, right)
	sh, ok := d.hopCache[key]
	if !ok {
		sh = d.score(prefix, cands, dist, left, right)
		d.hopCache[key] = sh
	}
	d.tally(prefix, cands, sh.probs)
	return sh.hop
}

func (d *Disambiguator) score(prefix string, cands []string, dist int, left, right string) scoredHop {
	probs := d.distribution(cands, dist, left, right)

	ranked := make([]Candidate, len(cands))
	for i, h := range cands {
		ranked[i] = Candidate{Hash: h, Probability: probs[i]}
	}
	sortCandidates(ranked)

	top := ranked[0].Probability
	var tied []string
	for _, c := range ranked {
		if top-c.Probability <= tieEpsilon {
			tied = append(tied, c.Hash)
		}
	}
	sort.Strings(tied)

	hop := ResolvedHop{Prefix: prefix, Hashes: tied, Confidence: top}
	switch {
	case len(tied) > 1:
		hop.Status = StatusAmbiguous
	case top >= d.cfg.ConfidenceThreshold:
		hop.Status = StatusResolved
	default:
		hop.Status = StatusUncertain
	}
	return scoredHop{hop: hop, probs: probs}
}

// distribution combines the three normalised signals into probabilities
// aligned with cands.
func (d *Disambiguator) distribution(cands []string, dist int, left, right string) []float64 {
	n := len(cands)
	pos := make([]float64, n)
	co := make([]float64, n)
	geo := make([]float64, n)

	var geoKnown, geoSum float64
	for i, h := range cands {
		pos[i] = float64(d.anchors[h][dist])
		if left != "" {
			co[i] += float64(d.certainAdj[h][left])
		}
		if right != "" {
			co[i] += float64(d.certainAdj[h][right])
		}
		if g, ok := d.geo[h]; ok {
			geo[i] = g
			geoKnown++
			geoSum += g
		} else {
			geo[i] = math.NaN()
		}
	}
	// Candidates without coordinates are neutral rather than penalised.
	for i := range geo {
		if math.IsNaN(geo[i]) {
			if geoKnown > 0 {
				geo[i] = geoSum / geoKnown
			} else {
				geo[i] = 0
			}
		}
	}

	w := d.cfg.Weights
	normalize(pos)
	normalize(co)
	normalize(geo)

	out := make([]float64, n)
	var total float64
	for i := range out {
		out[i] = w.Position*pos[i] + w.CoOccurrence*co[i] + w.Geographic*geo[i]
		total += out[i]
	}
	for i := range out {
		if total > 0 {
			out[i] /= total
		} else {
			out[i] = 1 / float64(n)
		}
	}
	return out
}

// normalize scales v to sum to one, or to a uniform share when v carries
// no signal.
func normalize(v []float64) {
	var sum float64
	for _, x := range v {
		sum += x
	}
	for i := range v {
		if sum > 0 {
			v[i] /= sum
		} else {
			v[i] = 1 / float64(len(v))
		}
	}
}

func sortCandidates(c []Candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Probability != c[j].Probability {
			return c[i].Probability > c[j].Probability
		}
		return c[i].Hash < c[j].Hash
	})
}

func (d *Disambiguator) tally(prefix string, cands []string, probs []float64) {
	t, ok := d.sets[prefix]
	if !ok {
		t = &candidateTally{sums: make(map[string]float64, len(cands))}
		d.sets[prefix] = t
	}
	t.occurrences++
	for i, h := range cands {
		t.sums[h] += probs[i]
	}
}

// CandidateSets returns the averaged distribution of every prefix that
// needed scoring, ordered by prefix.
func (d *Disambiguator) CandidateSets() []CandidateSet {
	prefixes := make([]string, 0, len(d.sets))
	for p := range d.sets {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)

	out := make([]CandidateSet, 0, len(prefixes))
	for _, p := range prefixes {
		t := d.sets[p]
		set := CandidateSet{Prefix: p, Occurrences: t.occurrences}
		for _, h := range d.byPrefix[p] {
			set.Candidates = append(set.Candidates, Candidate{
				Hash:        h,
				Probability: t.sums[h] / float64(t.occurrences),
			})
		}
		sortCandidates(set.Candidates)
		out = append(out, set)
	}
	return out
}
