package scorer

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Keyword category names with special scoring behavior.
const (
	CategoryFirearms     = "firearms"
	CategoryExplosives   = "explosives"
	CategoryViolence     = "violence"
	CategoryIllegalTerms = "illegal_terms"
)

// Lexicon holds the keyword vocabulary and intent patterns the scorer runs
// against cleaned text. Categories are disjoint keyword sets; DirectWeapons
// is the curated subset of weapon names that forces the 0.80 floor;
// IntentPatterns are regular expressions matched after text cleaning.
type Lexicon struct {
	Categories       map[string][]string `yaml:"categories"`
	DirectWeapons    []string            `yaml:"direct_weapons"`
	IntentPatterns   []string            `yaml:"intent_patterns"`
	TransactionTerms []string            `yaml:"transaction_terms"`
}

// LoadLexicon reads a lexicon override from a YAML file.
func LoadLexicon(path string) (Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("read lexicon: %w", err)
	}
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return Lexicon{}, fmt.Errorf("unmarshal lexicon: %w", err)
	}
	if len(lex.Categories) == 0 {
		return Lexicon{}, fmt.Errorf("lexicon defines no categories")
	}
	return lex, nil
}

// DefaultLexicon returns the built-in vocabulary.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Categories: map[string][]string{
			CategoryFirearms: {
				"gun", "rifle", "pistol", "firearm", "ammunition", "bullet",
				"shotgun", "handgun", "glock", "ak47", "ar15", "beretta",
				"colt", "sig sauer", "ruger", "remington", "winchester",
				"mossberg", "revolver", "carbine", "submachine",
				"assault rifle", "sniper", "silencer", "suppressor", "m16",
				"m4", "m1911", "uzi", "mp5", "scar", "hk416", "draco",
				"deagle", "desert eagle", "mac10", "tec9", "ammo", "rounds",
				"hollow point", "fmj", "9mm", "extended mag", "drum mag",
			},
			CategoryExplosives: {
				"bomb", "explosive", "grenade", "dynamite", "c4", "tnt",
				"semtex", "detonator", "pipe bomb", "molotov", "ied",
				"claymore", "rpg", "rocket launcher", "mortar", "frag",
				"thermite", "blasting cap", "det cord",
			},
			CategoryViolence: {
				"kill", "murder", "assassinate", "eliminate", "shoot",
				"shooting", "massacre", "slaughter", "execute", "take out",
				"light up", "headshot", "bodycount", "carnage", "bloodbath",
				"rampage",
			},
			CategoryIllegalTerms: {
				"smuggling", "black market", "illegal sale", "trafficking",
				"contraband", "untraceable", "cash only", "no questions",
				"private sale", "under the table", "no paperwork",
				"serial numbers filed", "ghost gun", "stolen", "throwaway",
				"burner phone", "no id", "crypto payment", "prepaid card",
			},
		},
		DirectWeapons: []string{
			"gun", "pistol", "rifle", "glock", "firearm", "weapon", "ak47",
			"ar15", "m16", "m4", "uzi", "mp5", "beretta", "colt",
			"sig sauer", "remington", "winchester", "mossberg", "ruger",
			"scar", "deagle",
		},
		IntentPatterns: []string{
			`\b(?:buy|sell|trade|purchase|get|want|need|looking for|acquire|seeking)\s+(?:a\s+)?(?:guns?|weapons?|firearms?|pistols?|rifles?|glock|ak47|ar15|m16|m4|uzi|mp5)\b`,
			`\b(?:want|need)\s+to\s+(?:buy|get|purchase|acquire)\s+(?:a\s+)?(?:gun|weapon|firearm|pistol|rifle|glock|m16|ak47|ar15)\b`,
			`\b(?:sell|selling|trade|trading|offering)\s+(?:guns?|weapons?|firearms?|ammunition|ammo|bullets?)\b`,
			`\b(?:cash only|no questions|untraceable|private sale|ghost gun|stolen gun)\b`,
			`\b(?:buy|get|purchase)\s+(?:\w+\s+)?to\s+(?:kill|murder|shoot|eliminate)\b`,
			`\b(?:illegal|black market|under the table)\s+(?:guns?|weapons?|firearms?)\b`,
			`\b(?:m16|m4|ak47|ar15|uzi|mp5|scar|hk416)\b`,
			`\b(?:9mm|556|762)\b`,
		},
		TransactionTerms: []string{
			"buy", "sell", "trade", "purchase", "want", "need", "get",
		},
	}
}
