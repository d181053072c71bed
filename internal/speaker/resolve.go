// Package speaker attributes a speech to a legislator, either from the
// granule's member metadata or from the speech's opening words.
package speaker

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/crec-cli/internal/govinfo"
	"github.com/sells-group/crec-cli/internal/model"
)

// prefixWindow is how many leading characters the fallback scans.
const prefixWindow = 50

var (
	openingRe = regexp.MustCompile(`^(Mr\.|Ms\.|Mrs\.|The)\s+([A-Za-z\s]+)(\.|:)`)
	placeRe   = regexp.MustCompile(`\s+of\s+[A-Za-z]+$`)
)

// Resolve returns the speaker for a speech. With members present the first
// one is authoritative and the result is mapped; otherwise the opening of
// text is parsed ("Mr. SMITH of Texas." becomes "Mr. Smith") and the result
// is unmapped. When neither works the Unknown Speaker sentinel is returned.
func Resolve(members []govinfo.Member, text string) model.Speaker {
	if len(members) > 0 {
		return fromMember(members[0])
	}
	return fromText(text)
}

func fromMember(m govinfo.Member) model.Speaker {
	sp := model.UnknownSpeakerRecord()
	sp.IsMapped = true
	sp.Name = m.DisplayName().Or(model.UnknownSpeaker)
	sp.Party = m.Party.String()
	sp.State = m.State.String()
	sp.ID = bioguideNumber(m.BioguideID.String())
	if sp.Name == model.UnknownSpeaker {
		return sp
	}

	if strings.Contains(sp.Name, ",") {
		parts := strings.Split(sp.Name, ",")
		last := strings.TrimSpace(parts[0])
		first := strings.TrimSpace(parts[1])
		sp.Name = strings.TrimSpace(first + " " + last)
		if last != "" {
			sp.LastName = last
		}
		if first != "" {
			sp.FirstName = first
		}
		if sp.Name == "" {
			sp.Name = model.UnknownSpeaker
		}
		return sp
	}

	if fields := strings.Fields(sp.Name); len(fields) > 1 {
		sp.FirstName = fields[0]
		sp.LastName = fields[len(fields)-1]
	}
	return sp
}

// bioguideNumber keeps the digits of a bioguide id ("D000123" -> 123).
func bioguideNumber(id string) int {
	if id == "" || id == model.Unknown {
		return model.NoSpeakerID
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, id)
	if digits == "" {
		return model.NoSpeakerID
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return model.NoSpeakerID
	}
	return n
}

func fromText(text string) model.Speaker {
	sp := model.UnknownSpeakerRecord()

	m := openingRe.FindStringSubmatch(prefix(text, prefixWindow))
	if m == nil {
		return sp
	}
	name := placeRe.ReplaceAllString(strings.TrimSpace(m[2]), "")
	fields := strings.FieldsFunc(name, unicode.IsSpace)
	if len(fields) == 0 {
		return sp
	}

	caser := cases.Title(language.English)
	sp.Name = caser.String(m[1] + " " + strings.Join(fields, " "))
	sp.LastName = caser.String(fields[len(fields)-1])
	return sp
}

func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
