package extract

import "regexp"

type platformPattern struct {
	name    string
	pattern *regexp.Regexp
}

var socialPatterns = []platformPattern{
	{"facebook", regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?facebook\.com/[\w\-.]+`)},
	{"linkedin", regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?linkedin\.com/(?:company|in)/[\w\-]+`)},
	{"instagram", regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?instagram\.com/[\w\-.]+`)},
	{"twitter", regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:twitter\.com|x\.com)/[\w\-.]+`)},
	{"youtube", regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?youtube\.com/(?:channel/|c/|user/|@)?[\w\-.]+`)},
	{"google_business", regexp.MustCompile(`(?i)(?:https?://)?(?:goo\.gl/maps|maps\.app\.goo\.gl|(?:www\.|maps\.)?google\.[a-z.]{2,6}/maps)[\w\-./?=&%@,+]*`)},
}

// SocialMedia maps each known platform to the first href that links to it.
func SocialMedia(hrefs []string) map[string]string {
	out := make(map[string]string)
	for _, p := range socialPatterns {
		for _, href := range hrefs {
			if m := p.pattern.FindString(href); m != "" {
				out[p.name] = m
				break
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
