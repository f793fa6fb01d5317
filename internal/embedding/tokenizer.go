package embedding

import (
	"strings"
	"unicode"
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// SimpleTokenizer is a word-split tokenizer with hash-based token IDs (for testing or fallback).
type SimpleTokenizer struct{}

// Tokenize splits text into words and produces padded token IDs up to maxTokens.
func (t *SimpleTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	words := SplitWords(text)
	if maxTokens <= 0 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = 101 // [CLS]
	attentionMask[0] = 1

	pos := 1
	for _, word := range words {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(HashString(word) % 30000)
		attentionMask[pos] = 1
		pos++
	}
	if pos < maxTokens {
		inputIDs[pos] = 102 // [SEP]
		attentionMask[pos] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords lowercases text and splits it into words. Runs of letters and
// digits form one word, except Han characters, which are words on their own.
func SplitWords(text string) []string {
	var words []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			word.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return words
}

// Grams returns the hashing features of text: every word, plus each pair of
// adjacent Han characters and each character bigram of longer words.
func Grams(text string) []string {
	words := SplitWords(text)
	grams := make([]string, 0, len(words)*2)
	for i, w := range words {
		grams = append(grams, w)
		r := []rune(w)
		if len(r) == 1 && unicode.Is(unicode.Han, r[0]) {
			if i+1 < len(words) {
				next := []rune(words[i+1])
				if len(next) == 1 && unicode.Is(unicode.Han, next[0]) {
					grams = append(grams, w+words[i+1])
				}
			}
			continue
		}
		for j := 0; j+1 < len(r); j++ {
			grams = append(grams, "#"+string(r[j:j+2]))
		}
	}
	return grams
}

// HashString returns a deterministic non-negative hash (FNV-1a, 31 bits).
func HashString(s string) int {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return int(h & 0x7fffffff)
}
