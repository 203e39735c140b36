package source

import (
	"path"
	"strings"

	"github.com/efebarandurmaz/repolens/internal/domain"
)

// codeLanguages maps source-code extensions to a language name.
var codeLanguages = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".scala": "scala",
	".swift": "swift",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".rs":    "rust",
	".rb":    "ruby",
	".php":   "php",
	".html":  "html",
	".css":   "css",
	".scss":  "css",
	".sql":   "sql",
	".sh":    "bash",
	".bash":  "bash",
	".lua":   "lua",
	".pl":    "perl",
	".r":     "r",
	".dart":  "dart",
	".vue":   "vue",
	".proto": "protobuf",
}

// textLanguages maps documentation and data extensions to a language name.
var textLanguages = map[string]string{
	".md":       "markdown",
	".markdown": "markdown",
	".txt":      "text",
	".rst":      "text",
	".adoc":     "text",
	".json":     "json",
	".yaml":     "yaml",
	".yml":      "yaml",
	".toml":     "toml",
	".ini":      "text",
	".cfg":      "text",
}

// codeFileNames are extensionless files that hold code.
var codeFileNames = map[string]string{
	"makefile":    "make",
	"dockerfile":  "docker",
	"jenkinsfile": "groovy",
}

// binaryExtensions are never fetched.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".ico": true, ".webp": true,
	".pdf": true, ".zip": true, ".gz": true, ".tgz": true, ".tar": true, ".7z": true, ".rar": true,
	".jar": true, ".war": true, ".class": true, ".exe": true, ".dll": true, ".so": true, ".dylib": true,
	".bin": true, ".o": true, ".a": true, ".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".mp3": true, ".mp4": true, ".mov": true, ".avi": true, ".wav": true, ".psd": true, ".pyc": true,
}

// Classify returns the content type and language of a path. Files whose
// extension is not a known code extension are treated as text.
func Classify(p string) (domain.ContentType, string) {
	base := strings.ToLower(path.Base(p))
	if lang, ok := codeFileNames[base]; ok {
		return domain.ContentCode, lang
	}
	ext := strings.ToLower(path.Ext(base))
	if lang, ok := codeLanguages[ext]; ok {
		return domain.ContentCode, lang
	}
	if lang, ok := textLanguages[ext]; ok {
		return domain.ContentText, lang
	}
	return domain.ContentText, "text"
}

// IsBinaryPath reports whether the extension marks a binary asset.
func IsBinaryPath(p string) bool {
	return binaryExtensions[strings.ToLower(path.Ext(p))]
}
