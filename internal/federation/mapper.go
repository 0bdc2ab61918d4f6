package federation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/rostersync/rostersync/internal/app/domain"
)

var (
	phonePattern    = regexp.MustCompile(`[^0-9+]`)
	postcodePattern = regexp.MustCompile(`(?i)\b[A-Z][0-9]{2}\s?[A-Z0-9]{4}\b`)
)

// statusMap translates federation membership statuses into local enrollment
// statuses. Unknown statuses map to pending rather than failing the record.
var statusMap = map[string]string{
	"active":    "active",
	"current":   "active",
	"paid":      "active",
	"lapsed":    "inactive",
	"expired":   "inactive",
	"inactive":  "inactive",
	"cancelled": "inactive",
	"suspended": "suspended",
	"pending":   "pending",
	"applied":   "pending",
}

// Mapper transforms raw federation membership records into normalized
// roster records. Transformation never fails as a whole: each record
// collects its own validation errors and the batch always completes.
type Mapper struct{}

func NewMapper() *Mapper {
	return &Mapper{}
}

// Transform maps every input record, preserving input order. Records that
// fail validation come back with a populated error list instead of being
// dropped, so the caller can report exactly which rows were rejected.
func (m *Mapper) Transform(members []domain.Member) []domain.TransformedRecord {
	records := make([]domain.TransformedRecord, 0, len(members))
	for i, member := range members {
		records = append(records, m.transformOne(i, member))
	}
	return records
}

func (m *Mapper) transformOne(index int, member domain.Member) domain.TransformedRecord {
	rec := domain.TransformedRecord{
		ExternalID: externalID(member),
	}
	if rec.ExternalID == "" {
		rec.Errors = append(rec.Errors, fmt.Sprintf("record %d: missing member identifier", index))
	}

	rec.FirstName = titleCase(member.FirstName)
	if rec.FirstName == "" {
		rec.Errors = append(rec.Errors, "missing first name")
	}
	rec.LastName = titleCase(member.LastName)
	if rec.LastName == "" {
		rec.Errors = append(rec.Errors, "missing last name")
	}

	if dob, err := normalizeDate(member.DateOfBirth); err != nil {
		rec.Errors = append(rec.Errors, fmt.Sprintf("invalid date of birth %q", member.DateOfBirth))
	} else if dob == "" {
		rec.Errors = append(rec.Errors, "missing date of birth")
	} else if parsed, _ := time.Parse("2006-01-02", dob); parsed.After(time.Now()) {
		rec.Errors = append(rec.Errors, fmt.Sprintf("date of birth %s is in the future", dob))
	} else {
		rec.DateOfBirth = dob
	}

	if email := strings.ToLower(strings.TrimSpace(member.Email)); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("invalid email %q dropped", member.Email))
		} else {
			rec.Email = email
		}
	}

	if phone := normalizePhone(member.Phone); phone != "" {
		rec.Phone = phone
	} else if strings.TrimSpace(member.Phone) != "" {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("unparseable phone %q dropped", member.Phone))
	}

	rec.Street, rec.Town, rec.County, rec.Postcode = parseAddress(member.Address)

	status := strings.ToLower(strings.TrimSpace(member.MembershipStatus))
	if mapped, ok := statusMap[status]; ok {
		rec.EnrollmentStatus = mapped
	} else {
		rec.EnrollmentStatus = "pending"
		if status != "" {
			rec.Warnings = append(rec.Warnings, fmt.Sprintf("unknown membership status %q mapped to pending", member.MembershipStatus))
		}
	}

	if joined, err := normalizeDate(member.JoinDate); err != nil {
		rec.Warnings = append(rec.Warnings, fmt.Sprintf("invalid join date %q dropped", member.JoinDate))
	} else {
		rec.EnrollmentDate = joined
	}

	return rec
}

// externalID prefers the membership number over the internal member id so
// the identity survives federation-side id churn.
func externalID(member domain.Member) string {
	if n := strings.TrimSpace(member.MembershipNumber); n != "" {
		return n
	}
	return strings.TrimSpace(member.MemberID)
}

// dateLayouts are the formats federation APIs have been seen to emit.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"02/01/2006",
	"2006/01/02",
}

// normalizeDate parses a date in any accepted layout and renders it as
// ISO 8601. An empty input yields an empty output without error.
func normalizeDate(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", nil
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.Format("2006-01-02"), nil
		}
	}
	return "", fmt.Errorf("unrecognized date %q", value)
}

// titleCase normalizes a name to Title Case, handling hyphenated and
// apostrophe names like o'brien and smith-jones.
func titleCase(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	lower := strings.ToLower(name)
	var b strings.Builder
	upperNext := true
	for _, r := range lower {
		if upperNext && r != ' ' && r != '-' && r != '\'' {
			b.WriteRune(toUpper(r))
			upperNext = false
			continue
		}
		b.WriteRune(r)
		if r == ' ' || r == '-' || r == '\'' {
			upperNext = true
		}
	}
	return b.String()
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - 32
	}
	return r
}

// normalizePhone strips formatting characters, keeping digits and a leading
// plus. Too-short results are treated as unparseable.
func normalizePhone(phone string) string {
	cleaned := phonePattern.ReplaceAllString(strings.TrimSpace(phone), "")
	if i := strings.LastIndex(cleaned, "+"); i > 0 {
		cleaned = strings.ReplaceAll(cleaned, "+", "")
	}
	if len(strings.TrimPrefix(cleaned, "+")) < 7 {
		return ""
	}
	return cleaned
}

// parseAddress splits a comma-separated address into street, town, county
// and postcode. Best effort: missing parts come back empty.
func parseAddress(address string) (street, town, county, postcode string) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", "", "", ""
	}

	if match := postcodePattern.FindString(address); match != "" {
		postcode = strings.ToUpper(match)
		address = strings.TrimSpace(strings.Replace(address, match, "", 1))
		address = strings.Trim(address, ", ")
	}

	parts := strings.Split(address, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	switch len(parts) {
	case 0:
	case 1:
		street = parts[0]
	case 2:
		street, town = parts[0], parts[1]
	default:
		street = strings.Join(parts[:len(parts)-2], ", ")
		town = parts[len(parts)-2]
		county = parts[len(parts)-1]
	}
	return street, town, county, postcode
}
