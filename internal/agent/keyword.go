package agent

import (
	"context"
	"slices"
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/inchoate/argument-clinic/internal/conversation"
)

// A transcribed token of at least fuzzyMinLen runes counts as a keyword when
// it sounds the same (Double Metaphone) and scores at least fuzzyThreshold
// on Jaro-Winkler. Shorter words must match exactly.
const (
	fuzzyThreshold = 0.90
	fuzzyMinLen    = 5
)

var (
	paymentWords = []string{"pay", "paid", "paying", "payment", "pound", "pounds", "quid", "fiver", "money", "cash", "fee"}

	metaPhrases = []string{
		"not an argument", "isn't an argument", "is an argument", "an argument is",
		"what's an argument", "is not arguing", "isn't arguing", "not arguing",
		"proper argument", "gainsay",
	}
	metaStems = []string{"contradict"}

	confusedPhrases = []string{
		"don't understand", "do not understand", "confused", "what is this place",
		"where am i", "what's going on", "what is going on", "what's happening",
	}
	confusedWords = []string{"help", "huh"}

	declinePhrases = []string{
		"not pay", "won't pay", "don't want to pay", "refuse", "no way", "never",
		"why should", "why do i", "why must", "expensive", "ridiculous", "rip off", "rip-off",
	}
	handOverPhrases = []string{
		"here's", "here is", "here you go", "here you are", "there you go",
		"take this", "take my money", "*hand", "hands over", "handing", "fiver",
	}
	affirmatives       = []string{"yes", "yeah", "yep", "fine", "ok", "okay", "alright", "sure", "right"}
	affirmativePhrases = []string{"that's fine", "all right", "go on then"}

	// retortWords mark a reply as arguing back ("Yes it is!") rather than
	// agreeing to pay.
	retortWords = []string{
		"it", "is", "isn't", "isnt", "not", "no", "did", "didn't", "didnt",
		"was", "wasn't", "can", "can't", "are", "aren't", "am", "do", "don't",
		"does", "doesn't", "have", "haven't", "wrong",
	}
)

// maxAgreementTokens bounds how long a bare agreement to pay may be.
const maxAgreementTokens = 5

// normalise lowercases s, folds typographic apostrophes and turns every rune
// other than letters, digits, apostrophes and asterisks into a space.
func normalise(s string) string {
	s = strings.ToLower(strings.ReplaceAll(s, "’", "'"))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '*'
	}), " ")
}

func containsAny(s string, phrases []string) bool {
	return slices.ContainsFunc(phrases, func(p string) bool { return strings.Contains(s, p) })
}

// matchesWord reports whether token equals one of words, allowing small
// transcription errors on longer words.
func matchesWord(token string, words []string) bool {
	token = strings.Trim(token, "'*")
	if slices.Contains(words, token) {
		return true
	}
	if len([]rune(token)) < fuzzyMinLen {
		return false
	}
	tp, ts := matchr.DoubleMetaphone(token)
	for _, w := range words {
		if len([]rune(w)) < fuzzyMinLen || matchr.JaroWinkler(token, w, false) < fuzzyThreshold {
			continue
		}
		wp, ws := matchr.DoubleMetaphone(w)
		if tp == wp || (ts != "" && ts == ws) || (ts != "" && ts == wp) || (ws != "" && tp == ws) {
			return true
		}
	}
	return false
}

func anyToken(tokens []string, words []string) bool {
	return slices.ContainsFunc(tokens, func(t string) bool { return matchesWord(t, words) })
}

// KeywordClassifier classifies input from fixed phrase lists. Payment
// vocabulary wins over meta commentary, which wins over confusion; anything
// else seeks contradiction.
type KeywordClassifier struct{}

// Classify implements conversation.Classifier. It never fails.
func (KeywordClassifier) Classify(_ context.Context, req conversation.ClassifyRequest) (conversation.Intent, error) {
	text := normalise(req.Text)
	tokens := strings.Fields(text)

	switch {
	case anyToken(tokens, paymentWords):
		return conversation.IntentPayment, nil
	case containsAny(text, metaPhrases) || slices.ContainsFunc(tokens, func(t string) bool {
		return containsAny(t, metaStems)
	}):
		return conversation.IntentMeta, nil
	case containsAny(text, confusedPhrases) || anyToken(tokens, confusedWords):
		return conversation.IntentConfused, nil
	}
	return conversation.IntentContradiction, nil
}

// KeywordJudge accepts a payment only when money changes hands. A promise
// such as "I'll pay you" is declined; once payment is pending, a short bare
// agreement counts as paying but arguing back does not.
type KeywordJudge struct{}

// Judge implements conversation.PaymentJudge. It never fails.
func (KeywordJudge) Judge(_ context.Context, req conversation.PaymentRequest) (bool, error) {
	text := normalise(req.Text)
	if text == "" || containsAny(text, declinePhrases) {
		return false, nil
	}
	if containsAny(text, handOverPhrases) {
		return true, nil
	}
	if !req.Pending {
		return false, nil
	}
	return isBareAgreement(text), nil
}

func isBareAgreement(text string) bool {
	tokens := strings.Fields(text)
	if len(tokens) > maxAgreementTokens || slices.ContainsFunc(tokens, func(t string) bool {
		return slices.Contains(retortWords, strings.Trim(t, "'*"))
	}) {
		return false
	}
	return slices.Contains(affirmatives, strings.Trim(tokens[0], "'*")) || containsAny(text, affirmativePhrases)
}

var (
	_ conversation.Classifier   = KeywordClassifier{}
	_ conversation.PaymentJudge = KeywordJudge{}
)
