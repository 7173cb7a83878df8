package prompt

// charsPerToken is the rough ratio used for budgeting.
const charsPerToken = 4

// EstimateTokens approximates the token cost of s as ceil(len(s)/4).
// The estimate is deterministic and deliberately coarse.
func EstimateTokens(s string) int {
	return (len(s) + charsPerToken - 1) / charsPerToken
}
