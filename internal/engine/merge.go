package engine

import (
	"fmt"

	"github.com/rewired-gh/hybridscan/internal/models"
)

// Merge combines the two model tiers in strict priority order. A loaded static
// model leads; the adaptive model decides alone only when it is not loaded.
func Merge(staticLoaded bool, s models.StaticTier, a models.AdaptiveTier) (models.Verdict, string) {
	if !staticLoaded {
		if a.Approves() {
			return models.VerdictSend, fmt.Sprintf("IA Fallback (%s)", a)
		}
		return models.VerdictSkip, "Hybrid"
	}

	switch s {
	case models.TierStrongBuy, models.TierBuy:
		if a != models.TierSkip {
			return models.VerdictSend, fmt.Sprintf("ML Primary (%s) + IA (%s)", s, a)
		}
		if s == models.TierStrongBuy {
			return models.VerdictSend, fmt.Sprintf("ML Override (%s)", s)
		}
	case models.TierWeakBuy:
		if a.Approves() {
			return models.VerdictSend, fmt.Sprintf("IA Decision (%s)", a)
		}
	}
	return models.VerdictSkip, "Hybrid"
}
