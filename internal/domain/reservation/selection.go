package reservation

import "strings"

// ChooseTime picks the candidate to book from the open times of a poll.
// The preferred time wins when listed, otherwise the first listed time.
// ok is false when nothing is open.
func ChooseTime(preferred string, open []string) (string, bool) {
	if len(open) == 0 {
		return "", false
	}
	if preferred != "" {
		for _, t := range open {
			if t == preferred {
				return t, true
			}
		}
	}
	return open[0], true
}

// Sample returns at most n times joined for log output, with an ellipsis
// when truncated.
func Sample(open []string, n int) string {
	if len(open) <= n {
		return strings.Join(open, ", ")
	}
	return strings.Join(open[:n], ", ") + "…"
}
