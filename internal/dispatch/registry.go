package dispatch

import (
	"strings"

	"github.com/loopworks/hookgate/internal/config"
)

// profileFor returns the configured profile for a tool. Unknown tools get a
// zero profile: no params requirement, path fields inferred by convention.
func (d *Dispatcher) profileFor(toolName string) config.ToolProfile {
	if p, ok := d.cfg.Tools[toolName]; ok {
		return p
	}
	return config.ToolProfile{}
}

// pathFields returns the params fields treated as filesystem paths. A
// profile that declares path fields is authoritative; otherwise fields are
// inferred from conventional key names, in sorted order for determinism.
func pathFields(profile config.ToolProfile, params map[string]interface{}) []string {
	if len(profile.PathFields) > 0 {
		return profile.PathFields
	}

	var fields []string
	for _, key := range sortedKeys(params) {
		if looksLikePathField(key) {
			fields = append(fields, key)
		}
	}
	return fields
}

func looksLikePathField(key string) bool {
	switch key {
	case "path", "file_path", "filepath", "filename", "file", "dir", "directory":
		return true
	}
	return strings.HasSuffix(key, "_path") || strings.HasSuffix(key, "_file") || strings.HasSuffix(key, "_dir")
}
