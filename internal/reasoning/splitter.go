package reasoning

import "strings"

// In-band markers some backends use to delimit reasoning when they have no
// native reasoning channel.
const (
	OpenTag  = "<reasoning_content>"
	CloseTag = "</reasoning_content>"
)

// SegmentKind classifies splitter output.
type SegmentKind int

const (
	SegmentText SegmentKind = iota
	SegmentThinking
)

// Segment is one run of classified text.
type Segment struct {
	Kind SegmentKind
	Text string
}

// Splitter incrementally separates reasoning-tagged text from plain text
// across arbitrary chunk boundaries. Concatenating the Text of every emitted
// segment reproduces the input with the two markers removed; a marker left
// incomplete at end of input is emitted literally by Flush.
type Splitter struct {
	buf         strings.Builder
	inReasoning bool
}

// InReasoning reports whether the splitter is currently inside an open tag.
func (s *Splitter) InReasoning() bool {
	return s.inReasoning
}

// ProcessChunk consumes the next chunk and returns any segments that can be
// classified so far. Text that may still turn into a marker is held back.
func (s *Splitter) ProcessChunk(chunk string) []Segment {
	if chunk == "" {
		return nil
	}
	s.buf.WriteString(chunk)
	data := s.buf.String()
	s.buf.Reset()

	var out []Segment
	for data != "" {
		tag := OpenTag
		kind := SegmentText
		if s.inReasoning {
			tag = CloseTag
			kind = SegmentThinking
		}
		if i := strings.Index(data, tag); i >= 0 {
			if i > 0 {
				out = appendSegment(out, kind, data[:i])
			}
			data = data[i+len(tag):]
			s.inReasoning = !s.inReasoning
			continue
		}
		// No full marker; hold back the longest suffix that could still
		// become one and emit the rest.
		hold := partialTagSuffix(data, tag)
		if emit := data[:len(data)-hold]; emit != "" {
			out = appendSegment(out, kind, emit)
		}
		s.buf.WriteString(data[len(data)-hold:])
		break
	}
	return out
}

// Flush drains any held-back text at end of input. A partial marker is
// emitted literally; content inside an unterminated open tag stays thinking.
func (s *Splitter) Flush() []Segment {
	rest := s.buf.String()
	s.buf.Reset()
	if rest == "" {
		return nil
	}
	kind := SegmentText
	if s.inReasoning {
		kind = SegmentThinking
	}
	return []Segment{{Kind: kind, Text: rest}}
}

// Reset returns the splitter to its initial state.
func (s *Splitter) Reset() {
	s.buf.Reset()
	s.inReasoning = false
}

func appendSegment(segs []Segment, kind SegmentKind, text string) []Segment {
	if n := len(segs); n > 0 && segs[n-1].Kind == kind {
		segs[n-1].Text += text
		return segs
	}
	return append(segs, Segment{Kind: kind, Text: text})
}

// partialTagSuffix returns the length of the longest suffix of data that is a
// proper prefix of tag.
func partialTagSuffix(data, tag string) int {
	max := len(tag) - 1
	if max > len(data) {
		max = len(data)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(data, tag[:n]) {
			return n
		}
	}
	return 0
}
