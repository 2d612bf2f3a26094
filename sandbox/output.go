package sandbox

import (
	"regexp"
	"strings"
)

var (
	controlChars = regexp.MustCompile(`[\x00-\x1F\x7F-\x{9F}]`)

	// failureKeywords marks lines that look like diagnostics. Docker merges
	// stdout and stderr before we see them, so this is a best-effort split.
	failureKeywords = regexp.MustCompile(`(?i)error|syntax|exception|traceback|cannot|\bfault\b|\bpanic\b|\bfatal\b|uncaught|null ?pointer|segmentation|undefined reference|stack trace`)
)

// Classify partitions merged output into output-like and error-like lines.
func Classify(raw string) ExecuteResult {
	var out, errs []string
	for _, line := range strings.Split(raw, "\n") {
		line = cleanLine(line)
		if failureKeywords.MatchString(line) {
			errs = append(errs, line)
		} else {
			out = append(out, line)
		}
	}
	return ExecuteResult{
		Output: strings.TrimSpace(strings.Join(out, "\n")),
		Error:  strings.TrimSpace(strings.Join(errs, "\n")),
	}
}

// Sanitize applies the cleaning step of Classify without routing any lines.
func Sanitize(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		lines[i] = cleanLine(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func cleanLine(line string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(line, ""))
}
