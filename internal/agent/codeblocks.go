package agent

import (
	"regexp"
	"strings"
)

// fencedBlockRegex matches fenced code blocks, including their contents
var fencedBlockRegex = regexp.MustCompile("(?s)```(.*?)```")

// languageTagRegex matches a bare language tag on a block's first line
var languageTagRegex = regexp.MustCompile(`^[a-zA-Z0-9_+-]*$`)

// ExtractCodeBlocks pulls all fenced code blocks out of model output and
// combines them into a single script. Returns "" when the output contains no
// code, which ends the generation loop.
func ExtractCodeBlocks(text string) string {
	matches := fencedBlockRegex.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}

	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		block := m[1]

		// Drop a leading language tag line ("python", "py", or empty)
		if idx := strings.Index(block, "\n"); idx >= 0 {
			first := strings.TrimSpace(block[:idx])
			if languageTagRegex.MatchString(first) {
				block = block[idx+1:]
			}
		}

		block = strings.Trim(block, "\n")
		if block != "" {
			blocks = append(blocks, block)
		}
	}

	return strings.Join(blocks, "\n\n")
}
