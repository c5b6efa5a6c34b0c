package sentiment

import (
	"strings"
	"unicode"
)

// polarity holds word scores in [-1, 1] for market news headlines.
var polarity = map[string]float64{
	// positive
	"surge": 0.8, "surges": 0.8, "surged": 0.8, "soar": 0.8, "soars": 0.8, "soared": 0.8,
	"rally": 0.7, "rallies": 0.7, "rallied": 0.7, "jump": 0.5, "jumps": 0.5, "jumped": 0.5,
	"gain": 0.5, "gains": 0.5, "gained": 0.5, "rise": 0.4, "rises": 0.4, "rising": 0.4, "rose": 0.4,
	"bull": 0.6, "bullish": 0.7, "record": 0.4, "high": 0.2, "higher": 0.3, "growth": 0.5,
	"adoption": 0.5, "approve": 0.6, "approved": 0.6, "approval": 0.6, "breakout": 0.6,
	"strong": 0.5, "stronger": 0.5, "boost": 0.5, "boosts": 0.5, "upgrade": 0.5, "upgraded": 0.5,
	"partnership": 0.4, "launch": 0.3, "launches": 0.3, "recover": 0.4, "recovers": 0.4,
	"recovery": 0.4, "optimism": 0.6, "optimistic": 0.6, "positive": 0.5, "profit": 0.5,
	"profits": 0.5, "win": 0.5, "wins": 0.5, "success": 0.6, "successful": 0.6, "good": 0.5,
	"great": 0.7, "best": 0.8, "inflows": 0.5, "outperform": 0.6, "outperforms": 0.6,

	// negative
	"crash": -0.9, "crashes": -0.9, "crashed": -0.9, "plunge": -0.8, "plunges": -0.8,
	"plunged": -0.8, "slump": -0.7, "slumps": -0.7, "drop": -0.5, "drops": -0.5, "dropped": -0.5,
	"fall": -0.5, "falls": -0.5, "fell": -0.5, "falling": -0.5, "decline": -0.5, "declines": -0.5,
	"bear": -0.6, "bearish": -0.7, "low": -0.2, "lower": -0.3, "loss": -0.6, "losses": -0.6,
	"hack": -0.8, "hacked": -0.8, "exploit": -0.7, "scam": -0.9, "fraud": -0.9, "lawsuit": -0.6,
	"sue": -0.5, "sues": -0.5, "ban": -0.7, "bans": -0.7, "banned": -0.7, "reject": -0.6,
	"rejected": -0.6, "rejects": -0.6, "weak": -0.5, "weaker": -0.5, "fear": -0.6, "fears": -0.6,
	"selloff": -0.7, "sell-off": -0.7, "liquidation": -0.6, "liquidations": -0.6, "risk": -0.3,
	"risks": -0.3, "warning": -0.5, "warns": -0.5, "crisis": -0.8, "collapse": -0.9,
	"collapsed": -0.9, "bad": -0.6, "worst": -0.9, "negative": -0.5, "outflows": -0.5,
	"investigation": -0.5, "probe": -0.4, "delay": -0.3, "delayed": -0.3, "volatile": -0.2,
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "without": true, "isn't": true, "aren't": true,
	"wasn't": true, "won't": true, "don't": true, "doesn't": true, "didn't": true,
}

// Polarity scores text as the mean polarity of its known words, flipping the
// sign of a word directly preceded by a negator. Text without known words
// scores 0.
func Polarity(text string) float64 {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\'' && r != '-'
	})

	var sum float64
	var n int
	for i, w := range words {
		p, ok := polarity[w]
		if !ok {
			continue
		}
		if i > 0 && negators[words[i-1]] {
			p = -p * 0.5
		}
		sum += p
		n++
	}
	if n == 0 {
		return 0
	}
	return clamp(sum / float64(n))
}

func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
