package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	icoPattern        = regexp.MustCompile(`(?i)\b(IČO?:?\s*)?(\d{8})\b`)
	enterprisePattern = regexp.MustCompile(`(?i)\b(?:BE\s?)?[01]?\d{3}[.\s]?\d{3}[.\s]?\d{3}\b`)
)

// OrgNumber returns the first registration number in text that passes the
// checksum for country. Czech and Slovak IČO are returned as the bare eight
// digits; Belgian enterprise numbers keep the form they were written in.
func OrgNumber(text, country string) (string, bool) {
	switch strings.ToLower(country) {
	case "cz", "sk":
		for _, m := range icoPattern.FindAllStringSubmatch(text, -1) {
			if ValidICO(m[2]) {
				return m[2], true
			}
		}
	case "be":
		for _, m := range enterprisePattern.FindAllString(text, -1) {
			if ValidEnterpriseNumber(digitsOnly(m)) {
				return m, true
			}
		}
	}
	return "", false
}

// ValidICO checks the weighted mod-11 check digit of an eight digit IČO.
func ValidICO(digits string) bool {
	if len(digits) != 8 || digitsOnly(digits) != digits {
		return false
	}
	sum := 0
	for i := 0; i < 7; i++ {
		sum += int(digits[i]-'0') * (8 - i)
	}
	var check int
	switch r := sum % 11; r {
	case 0:
		check = 1
	case 1:
		check = 0
	default:
		check = 11 - r
	}
	return int(digits[7]-'0') == check
}

// ValidEnterpriseNumber checks a Belgian enterprise number given as 9 or 10
// digits. Nine digit numbers are padded with a leading zero.
func ValidEnterpriseNumber(digits string) bool {
	if len(digits) == 9 {
		digits = "0" + digits
	}
	if len(digits) != 10 || digitsOnly(digits) != digits {
		return false
	}
	switch digits[0] {
	case '0':
		// 0000 to 0199 is reserved.
		if digits[1] == '0' || digits[1] == '1' {
			return false
		}
	case '1':
	default:
		return false
	}
	base, err := strconv.Atoi(digits[:8])
	if err != nil {
		return false
	}
	check, err := strconv.Atoi(digits[8:])
	if err != nil {
		return false
	}
	return check == 97-base%97
}
