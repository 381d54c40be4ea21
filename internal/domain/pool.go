package domain

import "sort"

// PoolExprKind tags the variant of a PoolExpr node.
type PoolExprKind string

// PoolExpr node kinds. The wire request tags each node with a `type`
// field plus inline kind-specific fields (see poolExprFromRequest in
// adapter/httpserver).
const (
	PoolAll            PoolExprKind = "all"
	PoolCustom         PoolExprKind = "custom"
	PoolByRarity       PoolExprKind = "by_rarity"
	PoolByProfession   PoolExprKind = "by_profession"
	PoolBySubProfession PoolExprKind = "by_sub_profession"
	PoolFilter         PoolExprKind = "filter"
	PoolUnion          PoolExprKind = "union"
	PoolIntersection   PoolExprKind = "intersection"
	PoolDifference     PoolExprKind = "difference"
)

// FilterPredicate is the payload of a Filter node: a conjunctive filter
// over rarity/profession/sub-profession plus explicit include/exclude
// lists.
type FilterPredicate struct {
	Rarities        []RarityRank
	Professions     []string
	SubProfessions  []string
	MinRarity       *RarityRank
	MaxRarity       *RarityRank
	IncludeIDs      []int32
	ExcludeIDs      []int32
}

// PoolExpr is a recursive algebraic expression over the character
// catalog. Exactly one field set is populated, selected by Kind.
type PoolExpr struct {
	Kind PoolExprKind

	CustomIDs      []int32           // PoolCustom
	Rarities       []RarityRank      // PoolByRarity
	Professions    []string          // PoolByProfession
	SubProfessions []string          // PoolBySubProfession
	Filter         *FilterPredicate  // PoolFilter
	Children       []PoolExpr        // PoolUnion / PoolIntersection
	Base           *PoolExpr         // PoolDifference
	Exclude        *PoolExpr         // PoolDifference
}

// PoolExprAllOperators builds the "every character" expression, the Go
// equivalent of the original CandidatePoolPreset::AllOperators preset.
func PoolExprAllOperators() PoolExpr { return PoolExpr{Kind: PoolAll} }

// PoolExprSixStar builds the "all Tier6 characters" expression, the Go
// equivalent of the original CandidatePoolPreset::SixStarOperators preset.
func PoolExprSixStar() PoolExpr {
	return PoolExpr{Kind: PoolByRarity, Rarities: []RarityRank{Tier6}}
}

// PoolExprCustom builds a fixed-ID-list expression, the Go equivalent of
// CandidatePoolPreset::Custom(ids).
func PoolExprCustom(ids []int32) PoolExpr {
	return PoolExpr{Kind: PoolCustom, CustomIDs: ids}
}

// Evaluate evaluates the expression against a catalog, returning a
// deduplicated set of operator IDs. Evaluation is deterministic and
// side-effect-free.
func (e PoolExpr) Evaluate(cat *Catalog) []int32 {
	switch e.Kind {
	case PoolAll:
		return cat.AllIDs()

	case PoolCustom:
		out := make([]int32, 0, len(e.CustomIDs))
		for _, id := range e.CustomIDs {
			if cat.Has(id) {
				out = append(out, id)
			}
		}
		return dedupe(out)

	case PoolByRarity:
		return dedupe(cat.FilterIDs(func(c Character) bool {
			return containsRarity(e.Rarities, c.Rarity)
		}))

	case PoolByProfession:
		return dedupe(cat.FilterIDs(func(c Character) bool {
			return containsString(e.Professions, c.Profession)
		}))

	case PoolBySubProfession:
		return dedupe(cat.FilterIDs(func(c Character) bool {
			return containsString(e.SubProfessions, c.SubProfessionID)
		}))

	case PoolFilter:
		return dedupe(e.evaluateFilter(cat))

	case PoolUnion:
		seen := map[int32]struct{}{}
		var out []int32
		for _, child := range e.Children {
			for _, id := range child.Evaluate(cat) {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
		return out

	case PoolIntersection:
		if len(e.Children) == 0 {
			return nil
		}
		counts := map[int32]int{}
		var order []int32
		for _, child := range e.Children {
			childSeen := map[int32]struct{}{}
			for _, id := range child.Evaluate(cat) {
				if _, dup := childSeen[id]; dup {
					continue
				}
				childSeen[id] = struct{}{}
				if counts[id] == 0 {
					order = append(order, id)
				}
				counts[id]++
			}
		}
		n := len(e.Children)
		var out []int32
		seen := map[int32]struct{}{}
		for _, id := range order {
			if counts[id] >= n {
				if _, ok := seen[id]; !ok {
					seen[id] = struct{}{}
					out = append(out, id)
				}
			}
		}
		return out

	case PoolDifference:
		if e.Base == nil {
			return nil
		}
		base := e.Base.Evaluate(cat)
		excluded := map[int32]struct{}{}
		if e.Exclude != nil {
			for _, id := range e.Exclude.Evaluate(cat) {
				excluded[id] = struct{}{}
			}
		}
		out := make([]int32, 0, len(base))
		for _, id := range base {
			if _, ok := excluded[id]; !ok {
				out = append(out, id)
			}
		}
		return out

	default:
		return nil
	}
}

func (e PoolExpr) evaluateFilter(cat *Catalog) []int32 {
	p := e.Filter
	if p == nil {
		return nil
	}
	base := cat.FilterIDs(func(c Character) bool {
		if len(p.Rarities) > 0 && !containsRarity(p.Rarities, c.Rarity) {
			return false
		}
		if len(p.Professions) > 0 && !containsString(p.Professions, c.Profession) {
			return false
		}
		if len(p.SubProfessions) > 0 && !containsString(p.SubProfessions, c.SubProfessionID) {
			return false
		}
		if p.MinRarity != nil && c.Rarity < *p.MinRarity {
			return false
		}
		if p.MaxRarity != nil && c.Rarity > *p.MaxRarity {
			return false
		}
		return true
	})

	// exclude_ids applied after the conjunctive filter; include_ids added
	// subject to catalog membership, without re-filtering.
	if len(p.ExcludeIDs) > 0 {
		excluded := map[int32]struct{}{}
		for _, id := range p.ExcludeIDs {
			excluded[id] = struct{}{}
		}
		filtered := base[:0:0]
		for _, id := range base {
			if _, ok := excluded[id]; !ok {
				filtered = append(filtered, id)
			}
		}
		base = filtered
	}
	for _, id := range p.IncludeIDs {
		if cat.Has(id) {
			base = append(base, id)
		}
	}
	return base
}

func dedupe(ids []int32) []int32 {
	seen := map[int32]struct{}{}
	out := make([]int32, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func containsRarity(set []RarityRank, r RarityRank) bool {
	for _, v := range set {
		if v == r {
			return true
		}
	}
	return false
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// SortedIDs returns a copy of ids sorted ascending. Pool evaluation
// order is unspecified; callers that need stability sort by ID.
func SortedIDs(ids []int32) []int32 {
	out := make([]int32, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
