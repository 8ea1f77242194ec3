package model

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Signature is a record-derived key used to index candidate patterns:
// the dominant merchant token, the significant description keywords, a
// coarse amount bucket, and the hour of day.
type Signature struct {
	MerchantToken string
	Keywords      []string
	AmountBucket  int
	Hour          int
}

// stopwords excluded from keyword signatures. These carry no categorization
// signal in bank statement descriptions.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "inc": true, "llc": true,
	"ltd": true, "corp": true, "com": true, "www": true, "pos": true,
	"purchase": true, "payment": true, "debit": true, "credit": true,
	"card": true, "online": true, "transaction": true,
}

// NewSignature derives a signature from a transaction.
func NewSignature(txn Transaction) Signature {
	merchant := NormalizeText(txn.DisplayName())
	tokens := strings.Fields(merchant)

	sig := Signature{
		AmountBucket: amountBucket(txn.Amount),
		Hour:         txn.Date.Hour(),
	}
	if len(tokens) > 0 {
		sig.MerchantToken = tokens[0]
	}

	seen := make(map[string]bool)
	for _, tok := range append(tokens, strings.Fields(NormalizeText(txn.Name))...) {
		if len(tok) < 3 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		sig.Keywords = append(sig.Keywords, tok)
	}
	sort.Strings(sig.Keywords)

	return sig
}

// Key returns a stable cache key for the signature.
func (s Signature) Key() string {
	return fmt.Sprintf("%s|%s|%d|%d",
		s.MerchantToken, strings.Join(s.Keywords, ","), s.AmountBucket, s.Hour)
}

// NormalizeText lowercases text and strips everything except letters,
// digits and spaces, collapsing runs of whitespace.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// amountBucket groups amounts into log10 magnitude bands so that purchases
// of similar scale index together.
func amountBucket(amount float64) int {
	abs := math.Abs(amount)
	if abs < 1 {
		return 0
	}
	return int(math.Floor(math.Log10(abs))) + 1
}
