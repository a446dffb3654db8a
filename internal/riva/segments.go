package riva

import "strings"

// collectSegments appends a valid trailing interim segment when needed.
func collectSegments(committed []string, lastInterim string) []string {
	segments := append([]string(nil), committed...)
	if interim := cleanSegment(lastInterim); interim != "" {
		segments = appendSegment(segments, interim)
	}
	return segments
}

// appendSegment merges continuation segments to avoid duplicate transcript growth.
func appendSegment(segments []string, transcript string) []string {
	transcript = cleanSegment(transcript)
	if transcript == "" {
		return segments
	}
	if len(segments) == 0 {
		return append(segments, transcript)
	}

	last := cleanSegment(segments[len(segments)-1])
	switch {
	case transcript == last:
		return segments
	case strings.HasPrefix(transcript, last):
		segments[len(segments)-1] = transcript
		return segments
	case strings.HasPrefix(last, transcript):
		return segments
	default:
		return append(segments, transcript)
	}
}

// isInterimContinuation decides whether an interim update extends prior speech.
func isInterimContinuation(previous, current string) bool {
	previous = cleanSegment(previous)
	current = cleanSegment(current)
	if previous == "" || current == "" || previous == current {
		return true
	}
	if strings.HasPrefix(current, previous) || strings.HasPrefix(previous, current) {
		return true
	}

	prevWords := strings.Fields(previous)
	currWords := strings.Fields(current)
	shorter := min(len(prevWords), len(currWords))
	if shorter == 0 {
		return true
	}
	if commonPrefixWords(prevWords, currWords)*2 >= shorter {
		return true
	}
	// Riva often rewrites the head of a hypothesis while keeping the tail.
	suffix := commonSuffixWords(prevWords, currWords)
	return suffix >= 2 && suffix*2 >= shorter
}

func commonPrefixWords(left, right []string) int {
	limit := min(len(left), len(right))
	count := 0
	for i := 0; i < limit; i++ {
		if left[i] != right[i] {
			break
		}
		count++
	}
	return count
}

func commonSuffixWords(left, right []string) int {
	count := 0
	for i, j := len(left)-1, len(right)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if left[i] != right[j] {
			break
		}
		count++
	}
	return count
}

// cleanSegment normalizes transcript whitespace.
func cleanSegment(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// joinSegments renders committed segments as one transcript.
func joinSegments(segments []string) string {
	return strings.Join(segments, " ")
}
