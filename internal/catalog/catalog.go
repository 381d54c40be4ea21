// Package catalog loads and serves the immutable character catalog that
// PoolExpr evaluation runs against.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

// rawCharacterTable is the catalog's on-disk shape: a flat map keyed
// "char_<id>_<slug>" -> character fields. The numeric ID lives only in
// the key; the value carries no id field.
type rawCharacterTable map[string]rawCharacter

type rawCharacter struct {
	Name            string `json:"name"`
	Rarity          string `json:"rarity"` // "TIER_1".."TIER_6", "E_NUM"
	Profession      string `json:"profession"`
	SubProfessionID string `json:"subProfessionId"`
	IsNotObtainable bool   `json:"isNotObtainable"`
}

// rarityFromTag maps the on-disk rarity tag to a domain.RarityRank.
// Anything that is not a TIER_n tag counts as ENum.
func rarityFromTag(tag string) domain.RarityRank {
	switch tag {
	case "TIER_1":
		return domain.Tier1
	case "TIER_2":
		return domain.Tier2
	case "TIER_3":
		return domain.Tier3
	case "TIER_4":
		return domain.Tier4
	case "TIER_5":
		return domain.Tier5
	case "TIER_6":
		return domain.Tier6
	default:
		return domain.ENum
	}
}

// parseCharID extracts the numeric ID from a "char_<id>_<slug>" key.
// Keys without the char_ prefix (tokens, traps) or without a numeric
// segment are not operators and are skipped.
func parseCharID(key string) (int32, bool) {
	rest, ok := strings.CutPrefix(key, "char_")
	if !ok {
		return 0, false
	}
	idPart, _, _ := strings.Cut(rest, "_")
	id, err := strconv.ParseInt(idPart, 10, 32)
	if err != nil {
		return 0, false
	}
	return int32(id), true
}

// Load reads a character_table.json-shaped file once at process start
// and returns an immutable Catalog. Remote portrait-manifest fetch is a
// separate concern and is not implemented here.
func Load(path string) (*domain.Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("op=catalog.Load: %w", err)
	}
	var raw rawCharacterTable
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("op=catalog.Load: %w", err)
	}
	chars := make([]domain.Character, 0, len(raw))
	for key, rc := range raw {
		id, ok := parseCharID(key)
		if !ok {
			continue
		}
		chars = append(chars, domain.Character{
			ID:              id,
			Name:            rc.Name,
			Rarity:          rarityFromTag(rc.Rarity),
			Profession:      rc.Profession,
			SubProfessionID: rc.SubProfessionID,
			IsNotObtainable: rc.IsNotObtainable,
		})
	}
	return domain.NewCatalog(chars), nil
}
