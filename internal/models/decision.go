package models

// StaticTier is the recommendation tier of the pretrained model.
type StaticTier string

const (
	TierStrongBuy  StaticTier = "strong_buy"
	TierBuy        StaticTier = "buy"
	TierWeakBuy    StaticTier = "weak_buy"
	TierStaticSkip StaticTier = "skip"
	TierFallback   StaticTier = "fallback"
)

// AdaptiveTier is the recommendation tier of the adaptive model.
type AdaptiveTier string

const (
	TierSend            AdaptiveTier = "send"
	TierSendWithCaution AdaptiveTier = "send_with_caution"
	TierSkip            AdaptiveTier = "skip"
)

// Approves reports whether the adaptive tier is one of the sending tiers.
func (t AdaptiveTier) Approves() bool {
	return t == TierSend || t == TierSendWithCaution
}

// Verdict is the merged decision.
type Verdict string

const (
	VerdictSend Verdict = "send"
	VerdictSkip Verdict = "skip"
)

// DecisionRecord is produced per evaluation and only logged.
type DecisionRecord struct {
	Symbol            string
	TechnicalScore    float64
	StaticLoaded      bool
	StaticProbability float64
	StaticTier        StaticTier
	AdaptiveProb      float64
	AdaptiveTier      AdaptiveTier
	Verdict           Verdict
	Strategy          string
	HybridConfidence  float64
}
