package job

import "strings"

// StatusLine is one parsed line of job_data/job_status: a key followed by
// zero or more "!!name!value!!" variable pairs.
type StatusLine struct {
	Key  string
	Vars map[string]string
}

// FailedLine is the trailing line UI collaborators treat as terminal
// failure.
const FailedLine = "failed"

// FormatStatusLine renders one status line in the "<key>,!!var1!val1!!,..."
// format described in §4.I.
func FormatStatusLine(key string, vars map[string]string) string {
	if len(vars) == 0 {
		return key
	}
	var b strings.Builder
	b.WriteString(key)
	for k, v := range vars {
		b.WriteString(",!!")
		b.WriteString(k)
		b.WriteString("!")
		b.WriteString(v)
		b.WriteString("!!")
	}
	return b.String()
}

// ParseStatusLines splits job_data/job_status into its component lines.
func ParseStatusLines(data string) []StatusLine {
	if data == "" {
		return nil
	}
	lines := strings.Split(data, "\n")
	out := make([]StatusLine, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		out = append(out, parseStatusLine(line))
	}
	return out
}

func parseStatusLine(line string) StatusLine {
	parts := strings.Split(line, ",")
	sl := StatusLine{Key: parts[0]}
	for _, p := range parts[1:] {
		p = strings.TrimPrefix(p, "!!")
		p = strings.TrimSuffix(p, "!!")
		kv := strings.SplitN(p, "!", 2)
		if len(kv) != 2 {
			continue
		}
		if sl.Vars == nil {
			sl.Vars = make(map[string]string)
		}
		sl.Vars[kv[0]] = kv[1]
	}
	return sl
}

// IsFailed reports whether data's final non-empty line marks terminal
// failure.
func IsFailed(data string) bool {
	lines := ParseStatusLines(data)
	if len(lines) == 0 {
		return false
	}
	return lines[len(lines)-1].Key == FailedLine
}
