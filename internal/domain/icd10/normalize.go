package icd10

import "strings"

// separator sits after the third character of a human-readable code.
const separator = "."

// ToCMSFormat returns code in the official CMS form, without a separator
// (J44.9 -> J449). Empty input yields "".
func ToCMSFormat(code string) string {
	return strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(code, separator, "")))
}

// ToHumanReadableFormat returns code with a separator after the third
// character (J449 -> J44.9). Codes that already carry a separator, and codes
// of three characters or fewer, are only trimmed and upper-cased.
func ToHumanReadableFormat(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.Contains(code, separator) || len(code) <= 3 {
		return code
	}
	return code[:3] + separator + code[3:]
}
