package scoring

import "strings"

// Vocabulary holds the phrase lists the heuristic rewards.
type Vocabulary struct {
	HighConversion []string `mapstructure:"high_conversion"`
	CallsToAction  []string `mapstructure:"calls_to_action"`
}

// DefaultVocabulary returns the Portuguese ad-copy lists used for Brazilian
// ad libraries.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		HighConversion: []string{
			"gratuito", "grátis", "desconto", "oferta", "garantia", "promo",
			"cupom", "frete", "limitado", "limitada", "apenas", "agora",
			"hoje", "exclusivo", "novo",
		},
		CallsToAction: []string{
			"clique", "saiba mais", "compre", "adquira", "garanta",
		},
	}
}

// normalized lowercases, trims and deduplicates each list.
func (v Vocabulary) normalized() Vocabulary {
	return Vocabulary{
		HighConversion: uniqueLower(v.HighConversion),
		CallsToAction:  uniqueLower(v.CallsToAction),
	}
}

func uniqueLower(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, term := range in {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
