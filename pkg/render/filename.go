package render

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/grafana-reporter/pkg/model"
)

// maxFilenameLength bounds the sanitized title portion of output names.
const maxFilenameLength = 30

var illegalFilenameChars = strings.NewReplacer(
	`\`, "", "/", "", ":", "", "*", "", "?", "", `"`, "", "<", "", ">", "", "|", "",
)

// SanitizeFilename strips filesystem-illegal characters from a title,
// trims surrounding whitespace and truncates to maxFilenameLength runes.
// Sanitizing an already-sanitized name is a no-op.
func SanitizeFilename(name string) string {
	s := illegalFilenameChars.Replace(name)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxFilenameLength {
		s = string(r[:maxFilenameLength])
	}
	return strings.TrimSpace(s)
}

// OutputPath derives a per-job-unique output path from the target title.
// The nanosecond timestamp suffix is the sole uniqueness guarantee against
// concurrent jobs targeting the same title.
func OutputPath(dir, title string, format model.Format) string {
	name := fmt.Sprintf("%s_%d.%s", SanitizeFilename(title), time.Now().UnixNano(), format.Ext())
	return filepath.Join(dir, name)
}
