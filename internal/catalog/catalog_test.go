package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/arkrank/internal/domain"
)

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "character_table.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesKeyedTable(t *testing.T) {
	path := writeTable(t, `{
		"char_002_amiya": {"name": "Amiya", "rarity": "TIER_5", "profession": "CASTER", "subProfessionId": "corecaster"},
		"char_172_svrash": {"name": "SilverAsh", "rarity": "TIER_6", "profession": "WARRIOR", "subProfessionId": "lord", "isNotObtainable": false}
	}`)

	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cat.Len())

	ch, ok := cat.Get(2)
	require.True(t, ok)
	assert.Equal(t, "Amiya", ch.Name)
	assert.Equal(t, domain.Tier5, ch.Rarity)
	assert.Equal(t, "CASTER", ch.Profession)
	assert.Equal(t, "corecaster", ch.SubProfessionID)

	ch2, ok := cat.Get(172)
	require.True(t, ok)
	assert.Equal(t, domain.Tier6, ch2.Rarity)
}

func TestLoad_SkipsNonCharKeys(t *testing.T) {
	path := writeTable(t, `{
		"char_103_angel": {"name": "Exusiai", "rarity": "TIER_6", "profession": "SNIPER", "subProfessionId": "fastshot"},
		"token_10000_silent_healrb": {"name": "Medic Drone", "rarity": "TIER_1", "profession": "TOKEN", "subProfessionId": "notchar1"},
		"trap_001_crate": {"name": "Crate", "rarity": "TIER_1", "profession": "TRAP", "subProfessionId": "notchar2"},
		"char_bad_key": {"name": "Broken", "rarity": "TIER_1", "profession": "WARRIOR", "subProfessionId": "x"}
	}`)

	cat, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.Len())
	assert.True(t, cat.Has(103))
}

func TestLoad_ENumRarity(t *testing.T) {
	path := writeTable(t, `{
		"char_512_aprot": {"name": "Shalem", "rarity": "E_NUM", "profession": "TANK", "subProfessionId": "protector", "isNotObtainable": true}
	}`)

	cat, err := Load(path)
	require.NoError(t, err)
	ch, ok := cat.Get(512)
	require.True(t, ok)
	assert.Equal(t, domain.ENum, ch.Rarity)
	assert.True(t, ch.IsNotObtainable)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestLoad_MalformedJSONErrors(t *testing.T) {
	path := writeTable(t, `{"char_1_x": `)
	_, err := Load(path)
	assert.Error(t, err)
}
