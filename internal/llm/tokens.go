package llm

import "unicode"

// EstimateTokens is a rough token count: CJK runs about 2 characters per token,
// everything else about 4.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	var wide, other int
	for _, r := range text {
		if unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul) {
			wide++
			continue
		}
		other++
	}
	return (wide+1)/2 + (other+3)/4
}

// EstimateMessages sums EstimateTokens over the message contents plus a small
// per-message overhead for the role envelope.
func EstimateMessages(msgs []Message) int {
	n := 0
	for _, m := range msgs {
		n += 4 + EstimateTokens(m.Content)
	}
	return n
}
