package service

import (
	"strings"
	"time"
	"unicode"
)

const archiveDateLayout = "20060102"

// ArchiveName is the standardized filename of an imported statement:
// <account>_<start>_<end><ext>, with the account name reduced to lower-case
// letters, digits and dashes.
func ArchiveName(account string, start, end time.Time, ext string) string {
	return strings.Join([]string{
		slug(account),
		start.Format(archiveDateLayout),
		end.Format(archiveDateLayout),
	}, "_") + strings.ToLower(ext)
}

func slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if out == "" {
		return "account"
	}
	return out
}
