// internal/analysis/ioc.go
package analysis

import (
	"regexp"
	"strings"
)

// IOC is one indicator of compromise extracted from raw log text
type IOC struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// iocPatterns are checked in this fixed order. When a literal value
// matches more than one class, the first class checked owns it.
var iocPatterns = []struct {
	class string
	re    *regexp.Regexp
}{
	{"ipv4", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
	{"domain", regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,6}\b`)},
	{"url", regexp.MustCompile(`https?://(?:www\.)?[-a-zA-Z0-9@:%._+~#=]{1,256}\.[a-zA-Z0-9()]{1,6}\b[-a-zA-Z0-9()@:%_+.~#?&/=]*`)},
	{"md5", regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`)},
	{"sha256", regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`)},
}

// fileExtensions are dotted names that look like domains but are file
// references in log lines (powershell.exe, run.sh)
var fileExtensions = map[string]bool{
	"exe": true, "dll": true, "bat": true, "ps1": true, "sh": true,
	"py": true, "log": true, "txt": true, "tmp": true, "dat": true,
	"bin": true, "sys": true, "cfg": true, "conf": true,
}

// ExtractIOCs scans raw log text for indicators of compromise. The same
// literal value is reported once even when it appears repeatedly or
// matches multiple pattern classes. Always operates on the original raw
// text: truncation or cleaning upstream must never cost an indicator.
func ExtractIOCs(logText string) []IOC {
	seen := make(map[string]bool)
	iocs := []IOC{}
	for _, p := range iocPatterns {
		for _, match := range p.re.FindAllString(logText, -1) {
			if seen[match] {
				continue
			}
			if p.class == "domain" && looksLikeFilename(match) {
				continue
			}
			seen[match] = true
			iocs = append(iocs, IOC{Type: p.class, Value: match})
		}
	}
	return iocs
}

func looksLikeFilename(value string) bool {
	i := strings.LastIndexByte(value, '.')
	if i < 0 {
		return false
	}
	return fileExtensions[strings.ToLower(value[i+1:])]
}
