// Package extract holds the country-aware contact extractors: emails, phone
// numbers, registration numbers with checksum validation, social profiles and
// the gazetteer-backed address scanner. Everything here is a pure function of
// its input.
package extract

// Contacts is the result of running the text extractors over one page.
type Contacts struct {
	Emails []string
	Phones []string
	OrgNum string
}

// ExtractContacts runs the email, phone and org number extractors over text.
// A phone whose digits are the validated org number is dropped, since the
// same digits were already claimed as a registration number.
func ExtractContacts(text, country string) Contacts {
	c := Contacts{
		Emails: Emails(text),
		Phones: Phones(text, country),
	}
	org, ok := OrgNumber(text, country)
	if !ok {
		return c
	}
	c.OrgNum = org
	c.Phones = dropOrgPhones(c.Phones, org)
	return c
}

func dropOrgPhones(phones []string, org string) []string {
	orgDigits := digitsOnly(org)
	padded := orgDigits
	if len(padded) == 9 {
		padded = "0" + padded
	}
	kept := phones[:0]
	for _, p := range phones {
		d := digitsOnly(p)
		if d == orgDigits || d == padded {
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}
