package engine

import "strings"

// stopwords are excluded from cluster labels and from heuristic entity
// mention extraction. The list covers function words plus the conversational
// filler that dominates agent transcripts.
var stopwords = map[string]bool{
	"a": true, "about": true, "after": true, "again": true, "all": true,
	"also": true, "always": true, "an": true, "and": true, "any": true,
	"are": true, "as": true, "at": true, "be": true, "because": true,
	"been": true, "before": true, "being": true, "but": true, "by": true,
	"can": true, "could": true, "did": true, "do": true, "does": true,
	"doing": true, "down": true, "during": true, "each": true, "for": true,
	"from": true, "further": true, "had": true, "has": true, "have": true,
	"having": true, "he": true, "her": true, "here": true, "hers": true,
	"him": true, "his": true, "how": true, "i": true, "if": true,
	"in": true, "into": true, "is": true, "it": true, "its": true,
	"just": true, "like": true, "me": true, "more": true, "most": true,
	"my": true, "never": true, "no": true, "not": true, "now": true,
	"of": true, "off": true, "on": true, "once": true, "only": true,
	"or": true, "other": true, "our": true, "out": true, "over": true,
	"own": true, "really": true, "same": true, "she": true, "should": true,
	"so": true, "some": true, "something": true, "such": true, "than": true,
	"that": true, "the": true, "their": true, "them": true, "then": true,
	"there": true, "these": true, "they": true, "this": true, "those": true,
	"through": true, "to": true, "too": true, "under": true, "until": true,
	"up": true, "user": true, "very": true, "was": true, "we": true,
	"were": true, "what": true, "when": true, "where": true, "which": true,
	"while": true, "who": true, "why": true, "will": true, "with": true,
	"would": true, "you": true, "your": true,
}

// isStopword reports whether the word (any case) is on the exclusion list.
func isStopword(word string) bool {
	return stopwords[strings.ToLower(word)]
}
