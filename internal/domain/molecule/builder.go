package molecule

import (
	"strconv"
	"strings"

	"github.com/turtacn/subsim/pkg/errors"
)

// ─────────────────────────────────────────────────────────────────────────────
// Element tables
// ─────────────────────────────────────────────────────────────────────────────

var periodicTable = func() map[string]struct{} {
	symbols := strings.Fields(`
		H He Li Be B C N O F Ne Na Mg Al Si P S Cl Ar K Ca Sc Ti V Cr Mn Fe Co Ni
		Cu Zn Ga Ge As Se Br Kr Rb Sr Y Zr Nb Mo Tc Ru Rh Pd Ag Cd In Sn Sb Te I Xe
		Cs Ba La Ce Pr Nd Pm Sm Eu Gd Tb Dy Ho Er Tm Yb Lu Hf Ta W Re Os Ir Pt Au Hg
		Tl Pb Bi Po At Rn Fr Ra Ac Th Pa U Np Pu Am Cm Bk Cf Es Fm Md No Lr Rf Db Sg
		Bh Hs Mt Ds Rg Cn Nh Fl Mc Lv Ts Og`)
	m := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		m[s] = struct{}{}
	}
	return m
}()

// organicValences lists the allowed valences of organic-subset atoms.  An
// atom takes the smallest valence that accommodates its bonds.
var organicValences = map[string][]int{
	"B":  {3},
	"C":  {4},
	"N":  {3, 5},
	"O":  {2},
	"P":  {3, 5},
	"S":  {2, 4, 6},
	"F":  {1},
	"Cl": {1},
	"Br": {1},
	"I":  {1},
}

// aromaticSymbols maps lowercase aromatic symbols to their element.  Only
// b c n o p s appear outside brackets; se and as are bracket-only.
var aromaticSymbols = map[string]string{
	"b": "B", "c": "C", "n": "N", "o": "O", "p": "P", "s": "S",
	"se": "Se", "as": "As",
}

// WildcardElement labels the "*" atom.
const WildcardElement = "*"

// ─────────────────────────────────────────────────────────────────────────────
// GraphBuilder
// ─────────────────────────────────────────────────────────────────────────────

// BuilderOptions tunes graph construction.
type BuilderOptions struct {
	// HeavyAtomsOnly suppresses hydrogen nodes.  Implicit and bracket
	// hydrogen counts are dropped, as are bracket [H] atoms bonded to a
	// heavy atom.
	HeavyAtomsOnly bool
	// MaxNodes rejects notations whose graph, hydrogens included, would
	// exceed this many nodes.  The graph is never materialised.  0 means
	// no bound.
	MaxNodes int
}

// GraphBuilder turns structure notation into a MolecularGraph.  It is
// stateless and safe for concurrent use.
type GraphBuilder struct {
	opts BuilderOptions
}

// NewGraphBuilder creates a GraphBuilder.
func NewGraphBuilder(opts BuilderOptions) *GraphBuilder {
	return &GraphBuilder{opts: opts}
}

// Build parses notation (a SMILES subset) and returns the element-only graph
// with hydrogens as explicit nodes.  Malformed input yields an error coded
// errors.CodeParseError.
func (b *GraphBuilder) Build(notation string) (*MolecularGraph, error) {
	p := &smilesParser{
		src:   notation,
		prev:  -1,
		rings: make(map[int]ringBond),
		seen:  make(map[[2]int]struct{}),
	}
	if err := p.parse(); err != nil {
		return nil, err
	}
	return b.assemble(p)
}

// assemble materialises parsed atoms and bonds into the final graph shape.
// Bond orders and aromatic flags are consumed here and not carried over.
func (b *GraphBuilder) assemble(p *smilesParser) (*MolecularGraph, error) {
	keep := make([]bool, len(p.atoms))
	for i := range p.atoms {
		keep[i] = true
	}
	if b.opts.HeavyAtomsOnly {
		for _, bd := range p.bonds {
			if p.atoms[bd.a].element == "H" && p.atoms[bd.b].element != "H" {
				keep[bd.a] = false
			}
			if p.atoms[bd.b].element == "H" && p.atoms[bd.a].element != "H" {
				keep[bd.b] = false
			}
		}
	}

	total := 0
	for i := range p.atoms {
		if keep[i] {
			total++
		}
		if !b.opts.HeavyAtomsOnly {
			total += p.hydrogens(i)
		}
	}
	if b.opts.MaxNodes > 0 && total > b.opts.MaxNodes {
		return nil, errors.New(errors.CodeGraphTooLarge, "graph too large to build").
			WithDetailf("nodes=%d max_nodes=%d", total, b.opts.MaxNodes)
	}

	index := make([]int, len(p.atoms))
	elements := make([]string, 0, total)
	for i, a := range p.atoms {
		if !keep[i] {
			index[i] = -1
			continue
		}
		index[i] = len(elements)
		elements = append(elements, a.element)
	}

	edges := make([][2]int, 0, len(p.bonds))
	for _, bd := range p.bonds {
		if index[bd.a] < 0 || index[bd.b] < 0 {
			continue
		}
		edges = append(edges, [2]int{index[bd.a], index[bd.b]})
	}

	if !b.opts.HeavyAtomsOnly {
		for i := range p.atoms {
			for h := p.hydrogens(i); h > 0; h-- {
				elements = append(elements, "H")
				edges = append(edges, [2]int{index[i], len(elements) - 1})
			}
		}
	}

	g, err := NewMolecularGraph(elements, edges)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeParseError, "invalid molecular graph").WithDetail(p.src)
	}
	return g, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Parser
// ─────────────────────────────────────────────────────────────────────────────

type parsedAtom struct {
	element  string
	aromatic bool
	bracket  bool
	hcount   int // bracket atoms only
	valence  int // bond order sum
}

type parsedBond struct {
	a, b int
}

type ringBond struct {
	atom  int
	order int
	set   bool
}

// smilesParser is a single-use recursive-free scanner over the notation.
// Branches use an explicit stack of attachment atoms.
type smilesParser struct {
	src   string
	pos   int
	atoms []parsedAtom
	bonds []parsedBond
	seen  map[[2]int]struct{}

	prev     int
	branches []int
	rings    map[int]ringBond

	bondOrder int
	bondSet   bool
	bondPos   int
}

func (p *smilesParser) fail(msg string) error {
	return errors.New(errors.CodeParseError, msg).WithDetailf("at position %d in %q", p.pos, p.src)
}

func (p *smilesParser) parse() error {
	if strings.TrimSpace(p.src) == "" {
		return errors.New(errors.CodeParseError, "empty structure notation")
	}
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '(':
			if p.prev < 0 {
				return p.fail("branch without preceding atom")
			}
			if p.bondSet {
				return p.fail("bond symbol before branch")
			}
			p.branches = append(p.branches, p.prev)
			p.pos++
		case c == ')':
			if len(p.branches) == 0 {
				return p.fail("unbalanced parenthesis")
			}
			if p.src[p.pos-1] == '(' {
				return p.fail("empty branch")
			}
			if p.bondSet {
				return p.fail("dangling bond")
			}
			p.prev = p.branches[len(p.branches)-1]
			p.branches = p.branches[:len(p.branches)-1]
			p.pos++
		case c == '.':
			if p.prev < 0 {
				return p.fail("empty component")
			}
			if p.bondSet {
				return p.fail("dangling bond")
			}
			if len(p.branches) > 0 {
				return p.fail("component separator inside branch")
			}
			p.prev = -1
			p.pos++
		case isBondSymbol(c):
			if p.bondSet {
				return p.fail("consecutive bond symbols")
			}
			if p.prev < 0 {
				return p.fail("bond without preceding atom")
			}
			p.bondOrder, p.bondSet, p.bondPos = bondOrder(c), true, p.pos
			p.pos++
		case c >= '0' && c <= '9' || c == '%':
			if err := p.ringClosure(); err != nil {
				return err
			}
		case c == '[':
			if err := p.bracketAtom(); err != nil {
				return err
			}
		default:
			if err := p.organicAtom(); err != nil {
				return err
			}
		}
	}

	switch {
	case p.bondSet:
		p.pos = p.bondPos
		return p.fail("dangling bond")
	case len(p.branches) > 0:
		return p.fail("unbalanced parenthesis")
	case len(p.rings) > 0:
		for n := range p.rings {
			return p.fail("unclosed ring bond " + strconv.Itoa(n))
		}
	case len(p.atoms) == 0:
		return p.fail("no atoms")
	}
	return nil
}

func isBondSymbol(c byte) bool {
	switch c {
	case '-', '=', '#', '$', ':', '/', '\\':
		return true
	}
	return false
}

// bondOrder returns the valence contribution of an explicit bond.  Aromatic
// ':' counts as a single bond; the aromatic atom adds its extra unit.
func bondOrder(c byte) int {
	switch c {
	case '=':
		return 2
	case '#':
		return 3
	case '$':
		return 4
	}
	return 1
}

func (p *smilesParser) organicAtom() error {
	rest := p.src[p.pos:]
	var sym string
	switch {
	case strings.HasPrefix(rest, "Cl"), strings.HasPrefix(rest, "Br"):
		sym = rest[:2]
	case len(rest) > 0 && strings.IndexByte("BCNOPSFI*", rest[0]) >= 0:
		sym = rest[:1]
	case len(rest) > 0 && strings.IndexByte("bcnops", rest[0]) >= 0:
		sym = rest[:1]
	default:
		return p.fail("unknown element")
	}
	atom := parsedAtom{element: sym}
	if el, ok := aromaticSymbols[sym]; ok {
		atom.element, atom.aromatic = el, true
	}
	p.pos += len(sym)
	return p.addAtom(atom)
}

func (p *smilesParser) bracketAtom() error {
	start := p.pos
	end := strings.IndexByte(p.src[start:], ']')
	if end < 0 {
		return p.fail("unterminated bracket atom")
	}
	body := p.src[start+1 : start+end]
	i := 0

	for i < len(body) && isDigit(body[i]) { // isotope
		i++
	}

	atom := parsedAtom{bracket: true}
	switch {
	case i < len(body) && body[i] == '*':
		atom.element = WildcardElement
		i++
	case i < len(body) && isUpper(body[i]):
		sym := body[i : i+1]
		if i+1 < len(body) && isLower(body[i+1]) {
			if _, ok := periodicTable[body[i:i+2]]; ok {
				sym = body[i : i+2]
			}
		}
		if _, ok := periodicTable[sym]; !ok {
			return p.fail("unknown element " + sym)
		}
		atom.element = sym
		i += len(sym)
	case i < len(body) && isLower(body[i]):
		sym := body[i : i+1]
		if i+1 < len(body) {
			if _, ok := aromaticSymbols[body[i:i+2]]; ok {
				sym = body[i : i+2]
			}
		}
		el, ok := aromaticSymbols[sym]
		if !ok {
			return p.fail("unknown aromatic element " + sym)
		}
		atom.element, atom.aromatic = el, true
		i += len(sym)
	default:
		return p.fail("missing element in bracket atom")
	}

	// chirality: @, @@, @TH1, @AL2, @SP3, @TB10, @OH25
	if i < len(body) && body[i] == '@' {
		i++
		if i < len(body) && body[i] == '@' {
			i++
		} else {
			for i < len(body) && isUpper(body[i]) {
				i++
			}
			for i < len(body) && isDigit(body[i]) {
				i++
			}
		}
	}

	if i < len(body) && body[i] == 'H' {
		i++
		atom.hcount = 1
		if i < len(body) && isDigit(body[i]) {
			atom.hcount = int(body[i] - '0')
			i++
			if i < len(body) && isDigit(body[i]) {
				p.pos = start + 1 + i
				return p.fail("hydrogen count out of range")
			}
		}
	}

	// charge: +, ++, +2, -, --, -3
	if i < len(body) && (body[i] == '+' || body[i] == '-') {
		sign := body[i]
		i++
		for i < len(body) && body[i] == sign {
			i++
		}
		for i < len(body) && isDigit(body[i]) {
			i++
		}
	}

	if i < len(body) && body[i] == ':' {
		i++
		if i == len(body) || !isDigit(body[i]) {
			p.pos = start + 1 + i
			return p.fail("malformed atom class")
		}
		for i < len(body) && isDigit(body[i]) {
			i++
		}
	}

	if i != len(body) {
		p.pos = start + 1 + i
		return p.fail("unexpected character in bracket atom")
	}
	p.pos = start + end + 1
	return p.addAtom(atom)
}

func (p *smilesParser) addAtom(atom parsedAtom) error {
	p.atoms = append(p.atoms, atom)
	idx := len(p.atoms) - 1
	if p.prev >= 0 {
		if err := p.bond(p.prev, idx, p.implicitOrExplicitOrder()); err != nil {
			return err
		}
	}
	p.bondSet = false
	p.prev = idx
	return nil
}

func (p *smilesParser) implicitOrExplicitOrder() int {
	if p.bondSet {
		return p.bondOrder
	}
	return 1
}

func (p *smilesParser) ringClosure() error {
	if p.prev < 0 {
		return p.fail("ring bond without preceding atom")
	}
	num := 0
	if p.src[p.pos] == '%' {
		if p.pos+2 >= len(p.src) || !isDigit(p.src[p.pos+1]) || !isDigit(p.src[p.pos+2]) {
			return p.fail("malformed ring number")
		}
		num = int(p.src[p.pos+1]-'0')*10 + int(p.src[p.pos+2]-'0')
		p.pos += 3
	} else {
		num = int(p.src[p.pos] - '0')
		p.pos++
	}

	open, ok := p.rings[num]
	if !ok {
		p.rings[num] = ringBond{atom: p.prev, order: p.bondOrder, set: p.bondSet}
		p.bondSet = false
		return nil
	}
	delete(p.rings, num)

	order := 1
	switch {
	case p.bondSet && open.set && p.bondOrder != open.order:
		return p.fail("conflicting ring bond orders")
	case p.bondSet:
		order = p.bondOrder
	case open.set:
		order = open.order
	}
	p.bondSet = false
	return p.bond(open.atom, p.prev, order)
}

func (p *smilesParser) bond(a, b, order int) error {
	if a == b {
		return p.fail("atom bonded to itself")
	}
	key := [2]int{a, b}
	if a > b {
		key = [2]int{b, a}
	}
	if _, dup := p.seen[key]; dup {
		return p.fail("duplicate bond")
	}
	p.seen[key] = struct{}{}
	p.bonds = append(p.bonds, parsedBond{a: a, b: b})
	p.atoms[a].valence += order
	p.atoms[b].valence += order
	return nil
}

// hydrogens returns the number of hydrogen nodes to attach to atom i.
func (p *smilesParser) hydrogens(i int) int {
	a := p.atoms[i]
	if a.bracket {
		return a.hcount
	}
	valences, ok := organicValences[a.element]
	if !ok {
		return 0
	}
	used := a.valence
	if a.aromatic {
		used++
	}
	for _, v := range valences {
		if v >= used {
			return v - used
		}
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
func isUpper(c byte) bool { return c >= 'A' && c <= 'Z' }
func isLower(c byte) bool { return c >= 'a' && c <= 'z' }
