package model

import "strings"

// FileType pairs a supported language with the file extension used for it.
type FileType struct {
	Language  string `json:"language"`
	Extension string `json:"extension"`
}

var extensions = map[string]string{
	"java":        "java",
	"python":      "py",
	"golang":      "go",
	"printscript": "prs",
}

// SupportedLanguages lists the languages with a dedicated extension, in
// display order.
var SupportedLanguages = []string{"java", "python", "golang", "printscript"}

// ExtensionFor maps a language name to its file extension. Unknown
// languages get "txt".
func ExtensionFor(language string) string {
	if ext, ok := extensions[strings.ToLower(strings.TrimSpace(language))]; ok {
		return ext
	}
	return "txt"
}

// FileTypes returns the supported language/extension table.
func FileTypes() []FileType {
	out := make([]FileType, 0, len(SupportedLanguages))
	for _, lang := range SupportedLanguages {
		out = append(out, FileType{Language: lang, Extension: ExtensionFor(lang)})
	}
	return out
}
