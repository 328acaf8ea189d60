package deployment

import (
	"encoding/json"
	"sort"
	"strings"
)

const Redacted = "***REDACTED***"

// Secret holds a sensitive configuration value. Every printing and encoding path redacts it;
// the plaintext is only available through Reveal.
type Secret string

func (s Secret) Reveal() string {
	return string(s)
}

func (s Secret) Empty() bool {
	return len(s) == 0
}

func (s Secret) String() string {
	if s.Empty() {
		return ""
	}
	return Redacted
}

func (s Secret) GoString() string {
	return s.String()
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Secret) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Secret(str)
	return nil
}

// minScrubLength keeps very short values (e.g. "1") from mangling unrelated text.
const minScrubLength = 4

// Scrub replaces every occurrence of the given secret values in text.
func Scrub(text string, secrets []string) string {
	if len(text) == 0 || len(secrets) == 0 {
		return text
	}
	// Longest first, so that a secret containing another secret is replaced whole.
	sorted := append([]string(nil), secrets...)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })
	for _, secret := range sorted {
		if len(secret) < minScrubLength {
			continue
		}
		text = strings.ReplaceAll(text, secret, Redacted)
	}
	return text
}
