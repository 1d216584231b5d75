package parser

import "github.com/JakeFAU/listing-crawler/internal/crawler"

// Weights are the points each populated field adds to a snapshot's score.
type Weights struct {
	Emails      int
	Phones      int
	CompanyName int
	OrgNum      int
	SocialMedia int
	Structured  int
	Addresses   int
	Max         int
}

// DefaultWeights returns the stock scoring table.
func DefaultWeights() Weights {
	return Weights{
		Emails:      20,
		Phones:      20,
		CompanyName: 15,
		OrgNum:      15,
		SocialMedia: 10,
		Structured:  10,
		Addresses:   10,
		Max:         100,
	}
}

// Score sums the weights of populated fields, capped at Max.
func (w Weights) Score(d crawler.SnapshotData) int {
	score := 0
	if len(d.Emails) > 0 {
		score += w.Emails
	}
	if len(d.Phones) > 0 {
		score += w.Phones
	}
	if d.CompanyName != nil && *d.CompanyName != "" {
		score += w.CompanyName
	}
	if d.OrgNum != nil && *d.OrgNum != "" {
		score += w.OrgNum
	}
	if len(d.SocialMedia) > 0 {
		score += w.SocialMedia
	}
	if !d.Structured.Empty() {
		score += w.Structured
	}
	if len(d.Addresses) > 0 {
		score += w.Addresses
	}
	if w.Max > 0 && score > w.Max {
		return w.Max
	}
	return score
}
