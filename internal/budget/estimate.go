// Package budget tracks token and credit spend, evaluates alert rules over
// the resulting metrics and gates work on a wallet balance.
package budget

// TokensPerCredit is how many tokens one credit buys
const TokensPerCredit = 1000

// EstimateCost converts token counts into credits, always rounding up so an
// estimate never understates spend.
func EstimateCost(promptTokens, completionTokens int) int64 {
	return EstimateCostWith(promptTokens, completionTokens, TokensPerCredit)
}

// EstimateCostWith is EstimateCost with a custom exchange rate
func EstimateCostWith(promptTokens, completionTokens, tokensPerCredit int) int64 {
	if tokensPerCredit <= 0 {
		tokensPerCredit = TokensPerCredit
	}
	total := int64(promptTokens) + int64(completionTokens)
	if total <= 0 {
		return 0
	}
	per := int64(tokensPerCredit)
	return (total + per - 1) / per
}
