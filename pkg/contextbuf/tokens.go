package contextbuf

// Tokenizer counts tokens in text. The accurate model tokenizer is
// optional equipment; EstimateTokens is the first-class fallback and
// behaviour never branches on which one is in use.
type Tokenizer interface {
	CountTokens(text string) int
}

// EstimateTokens approximates token count as len/4, rounded down.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// heuristicTokenizer is the default Tokenizer.
type heuristicTokenizer struct{}

func (heuristicTokenizer) CountTokens(text string) int { return EstimateTokens(text) }
