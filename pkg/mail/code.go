package mail

import (
	"html"
	"regexp"
	"strings"
)

var (
	styleBlockRe  = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	scriptBlockRe = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	tagRe         = regexp.MustCompile(`<[^>]+>`)
	spaceRe       = regexp.MustCompile(`\s+`)
	emailRe       = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	contextCodeRe = regexp.MustCompile(`(?i)(?:code|verification|passcode|pin).*?(?:[:：]|\bis\b)\s*([A-Za-z0-9]{4,8})\b`)
	cssUnitRe     = regexp.MustCompile(`(?i)^\d+(?:px|pt|em|rem|vh|vw|%)$`)
	mixedSixRe    = regexp.MustCompile(`[A-Z0-9]{6}`)
	digitRe       = regexp.MustCompile(`\d`)
	upperSixRe    = regexp.MustCompile(`\b[A-Z]{6}\b`)
	digitSixRe    = regexp.MustCompile(`\b\d{6}\b`)
)

// wordBlacklist lists common English words that look like all-caps codes.
var wordBlacklist = map[string]struct{}{
	"YOUR": {}, "CODE": {}, "THIS": {}, "THAT": {}, "WITH": {}, "FROM": {},
	"HAVE": {}, "BEEN": {}, "WILL": {}, "DOES": {}, "DONT": {}, "HERE": {},
	"THEM": {}, "THEN": {}, "THAN": {}, "WHEN": {}, "WHAT": {}, "SOME": {},
	"ONLY": {}, "JUST": {}, "ALSO": {}, "INTO": {}, "OVER": {}, "EACH": {},
	"SIGN": {}, "LINK": {}, "CLICK": {}, "EMAIL": {}, "VERIFY": {},
	"ACCOUNT": {}, "GOOGLE": {},
}

// stripHTML removes tags and style/script blocks, keeping plain text.
func stripHTML(text string) string {
	text = styleBlockRe.ReplaceAllString(text, " ")
	text = scriptBlockRe.ReplaceAllString(text, " ")
	text = tagRe.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// removeEmails strips addresses so their digit/letter runs are not mistaken
// for verification codes.
func removeEmails(text string) string {
	return emailRe.ReplaceAllString(text, " ")
}

// ExtractVerificationCode pulls a verification code out of a message body.
// It tries, in order: a contextual "code: XXXX" pattern, a six character
// uppercase alphanumeric run containing a digit, six uppercase letters, and
// finally six plain digits. Returns "" when nothing matches.
func ExtractVerificationCode(text string) string {
	if text == "" {
		return ""
	}

	clean := removeEmails(stripHTML(text))

	// Strategy 1: context keyword + separator + candidate
	for _, m := range contextCodeRe.FindAllStringSubmatch(clean, -1) {
		candidate := m[1]
		if cssUnitRe.MatchString(candidate) {
			continue
		}
		if _, blocked := wordBlacklist[strings.ToUpper(candidate)]; blocked {
			continue
		}
		return candidate
	}

	// Strategy 2: six uppercase alphanumerics with at least one digit
	for _, candidate := range mixedSixRe.FindAllString(clean, -1) {
		if digitRe.MatchString(candidate) {
			return candidate
		}
	}

	// Strategy 3: six uppercase letters, codes often use them
	if m := upperSixRe.FindString(clean); m != "" {
		if _, blocked := wordBlacklist[m]; !blocked {
			return m
		}
	}

	// Strategy 4: six plain digits, matched last to avoid leftovers from
	// partially stripped addresses
	if m := digitSixRe.FindString(clean); m != "" {
		return m
	}

	return ""
}
