package scheduler

import (
	"strings"

	"github.com/KRHero03/linkedin-seeker-assistant/internal/models"
)

// renderNote fills {{Name}}, {{Company}} and {{Title}} from the profile.
// Only the first name is used and titles are cut at the first separator.
func renderNote(tmpl string, p models.Profile) string {
	firstName := p.Name
	if idx := strings.Index(firstName, " "); idx > 0 {
		firstName = firstName[:idx]
	}

	title := p.Title
	if idx := strings.Index(title, "@"); idx > 0 {
		title = strings.TrimSpace(title[:idx])
	} else if idx := strings.Index(title, "|"); idx > 0 {
		title = strings.TrimSpace(title[:idx])
	} else if idx := strings.Index(title, " at "); idx > 0 {
		title = strings.TrimSpace(title[:idx])
	}
	if r := []rune(title); len(r) > 50 {
		title = string(r[:50])
		if idx := strings.LastIndex(title, " "); idx > 20 {
			title = title[:idx]
		}
	}

	r := strings.NewReplacer(
		"{{Name}}", firstName,
		"{{Company}}", p.Company,
		"{{Title}}", title,
	)
	return strings.TrimSpace(r.Replace(tmpl))
}

func noteLen(s string) int { return len([]rune(s)) }
