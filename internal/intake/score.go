package intake

import (
	"regexp"
	"unicode/utf8"
)

// Scoring is additive: each rule contributes independently, the sum is
// clamped to [0,100]. Rules are order-insensitive and never fail; unknown or
// missing features contribute nothing.
const (
	baseScoreWebForm = 10
	baseScoreSMTP    = 10
	baseScoreEmail   = 20

	honeypotWeight = 60

	threatScoreCap = 20

	longNotesRunes  = 280
	longNotesWeight = 10
	notesURLWeight  = 10

	spamScoreCap     = 40
	spfFailWeight    = 25
	dkimWeight       = 15
	urlCountLow      = 3
	urlCountLowAdd   = 15
	urlCountHigh     = 6
	urlCountHighAdd  = 25
	subjectWeight    = 20
	bodyWeight       = 15
	attachmentWeight = 30

	smtpSPFFailWeight = 30
	smtpSubjectWeight = 30
	smtpLargeSize     = 5_000_000
	smtpLargeSizeAdd  = 10
)

var (
	notesURLRe     = regexp.MustCompile(`(?i)https?://`)
	subjectSpamRe  = regexp.MustCompile(`(?i)(viagra|loan|casino|crypto|sex|nude|won|invoice|overdue)`)
	bodySpamRe     = regexp.MustCompile(`(?i)(btc|usdt|porn|hack|ransom|urgent|wire|gift\s?card)`)
	smtpSubjectRe  = regexp.MustCompile(`(?i)(viagra|loan|crypto|casino)`)
	dangerousExtRe = regexp.MustCompile(`(?i)\.(exe|js|vbs|scr|bat|cmd|ps1|jar|xlsm|docm|zip|rar)$`)
)

// Score maps a normalized intake to its risk score and classification.
// It is a pure function: identical input and threshold always yield the same
// result. suspectThreshold is the configured score at which a non-honeypot
// event is classified suspicious.
//
// The CSP channel is never scored; it returns (0, observed) and callers are
// expected to route policy reports around the event pipeline entirely.
func Score(raw *RawIntake, suspectThreshold int) (int, Classification) {
	if raw == nil || raw.Channel == ChannelCSPReport {
		return 0, ClassObserved
	}

	var score int
	switch raw.Channel {
	case ChannelWebForm:
		score = baseScoreWebForm + scoreWebForm(raw.WebForm)
	case ChannelEmail:
		score = baseScoreEmail + scoreEmail(raw.Email)
	case ChannelSMTP:
		score = baseScoreSMTP + scoreSMTP(raw.SMTP)
	}

	if raw.HoneypotTripped {
		score += honeypotWeight
	}

	score = clamp(score, 0, 100)

	switch {
	case raw.HoneypotTripped:
		return score, ClassHoneypot
	case score >= suspectThreshold:
		return score, ClassSuspicious
	default:
		return score, ClassObserved
	}
}

func scoreWebForm(f *WebFormFeatures) int {
	if f == nil {
		return 0
	}
	var s int
	if f.ThreatScore > 0 {
		s += min(f.ThreatScore, threatScoreCap)
	}
	if utf8.RuneCountInString(f.Notes) > longNotesRunes {
		s += longNotesWeight
	}
	if notesURLRe.MatchString(f.Notes) {
		s += notesURLWeight
	}
	return s
}

func scoreEmail(f *EmailFeatures) int {
	if f == nil {
		return 0
	}
	var s int
	if f.SpamScoreKnown {
		s += int(clampFloat(f.SpamScore*10, 0, spamScoreCap))
	}
	if spfFailed(f.SPF) {
		s += spfFailWeight
	}
	if dkimWeak(f.DKIM) {
		s += dkimWeight
	}
	if f.URLCount >= urlCountLow {
		s += urlCountLowAdd
	}
	if f.URLCount >= urlCountHigh {
		s += urlCountHighAdd
	}
	if subjectSpamRe.MatchString(f.Subject) {
		s += subjectWeight
	}
	if bodySpamRe.MatchString(f.Body) {
		s += bodyWeight
	}
	for _, name := range f.AttachmentNames {
		if dangerousExtRe.MatchString(name) {
			s += attachmentWeight
			break
		}
	}
	return s
}

func scoreSMTP(f *SMTPFeatures) int {
	if f == nil {
		return 0
	}
	var s int
	if f.SPFFail {
		s += smtpSPFFailWeight
	}
	if smtpSubjectRe.MatchString(f.Subject) {
		s += smtpSubjectWeight
	}
	if f.PayloadSize > smtpLargeSize {
		s += smtpLargeSizeAdd
	}
	return s
}

var spfFailRe = regexp.MustCompile(`(?i)fail`)
var dkimWeakRe = regexp.MustCompile(`(?i)fail|none`)

func spfFailed(spf string) bool {
	return spf != "" && spfFailRe.MatchString(spf)
}

func dkimWeak(dkim string) bool {
	return dkim != "" && dkimWeakRe.MatchString(dkim)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
