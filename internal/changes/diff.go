// Package changes compares consecutive snapshots of a listing, records the
// fields that changed and notifies external sinks.
package changes

import (
	"encoding/json"
	"sort"

	"github.com/JakeFAU/listing-crawler/internal/crawler"
)

// TrackedFields lists the snapshot fields compared between observations, in
// the order change records are written.
var TrackedFields = []string{
	"company_name",
	"emails",
	"phones",
	"org_num",
	"addresses",
	"opening_hours",
	"social_media",
}

// FieldChange is one differing field. A nil value means empty or absent.
type FieldChange struct {
	Field    string
	OldValue *string
	NewValue *string
}

// Compare returns the tracked fields whose canonical values differ. Lists
// compare as sets and an empty value equals an absent one.
func Compare(prev, latest crawler.SnapshotData) []FieldChange {
	var out []FieldChange
	for _, field := range TrackedFields {
		oldValue := canonical(prev, field)
		newValue := canonical(latest, field)
		if equal(oldValue, newValue) {
			continue
		}
		out = append(out, FieldChange{Field: field, OldValue: oldValue, NewValue: newValue})
	}
	return out
}

func canonical(d crawler.SnapshotData, field string) *string {
	switch field {
	case "company_name":
		return scalar(d.CompanyName)
	case "org_num":
		return scalar(d.OrgNum)
	case "emails":
		return list(d.Emails)
	case "phones":
		return list(d.Phones)
	case "addresses":
		return list(d.Addresses)
	case "opening_hours":
		return list(d.OpeningHours)
	case "social_media":
		if len(d.SocialMedia) == 0 {
			return nil
		}
		// encoding/json writes map keys sorted.
		return encode(d.SocialMedia)
	}
	return nil
}

func scalar(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return encode(*s)
}

func list(values []string) *string {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return encode(sorted)
}

func encode(v any) *string {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	s := string(b)
	return &s
}

func equal(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
