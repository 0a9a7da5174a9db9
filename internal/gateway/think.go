package gateway

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// thinkFilter splits a raw backend token stream into visible content and
// reasoning content delimited by <think>...</think> markers. Reasoning
// content is retained verbatim and surfaced as thinking_step boundary
// events instead of the visible content stream.
type thinkFilter struct {
	h        StreamHandler
	buf      strings.Builder
	inThink  bool
	reasoning strings.Builder
}

func newThinkFilter(h StreamHandler) *thinkFilter {
	return &thinkFilter{h: h}
}

// OnBoundary passes through backend-originated boundary events unchanged.
func (f *thinkFilter) OnBoundary(ev BoundaryEvent) {
	f.h.OnBoundary(ev)
}

// OnDelta implements Backend's raw-token sink. It buffers enough to detect
// split tag markers across chunk boundaries, then routes content to the
// visible stream or the reasoning stream.
func (f *thinkFilter) OnDelta(d Delta) {
	f.buf.WriteString(d.Text)
	f.drain(d.Logprob)
}

func (f *thinkFilter) drain(lp *float64) {
	for {
		s := f.buf.String()
		if !f.inThink {
			idx := strings.Index(s, thinkOpen)
			if idx == -1 {
				// Hold back a tail that could be a partial "<think>" marker.
				keep := partialSuffixLen(s, thinkOpen)
				if keep < len(s) {
					f.h.OnDelta(Delta{Text: s[:len(s)-keep], Logprob: lp})
				}
				f.buf.Reset()
				f.buf.WriteString(s[len(s)-keep:])
				return
			}
			if idx > 0 {
				f.h.OnDelta(Delta{Text: s[:idx], Logprob: lp})
			}
			f.h.OnBoundary(BoundaryEvent{Name: "thinking_start"})
			f.inThink = true
			f.buf.Reset()
			f.buf.WriteString(s[idx+len(thinkOpen):])
			continue
		}
		idx := strings.Index(s, thinkClose)
		if idx == -1 {
			keep := partialSuffixLen(s, thinkClose)
			if keep < len(s) {
				chunk := s[:len(s)-keep]
				f.reasoning.WriteString(chunk)
				f.h.OnBoundary(BoundaryEvent{Name: "thinking_step", Content: chunk})
			}
			f.buf.Reset()
			f.buf.WriteString(s[len(s)-keep:])
			return
		}
		chunk := s[:idx]
		f.reasoning.WriteString(chunk)
		if chunk != "" {
			f.h.OnBoundary(BoundaryEvent{Name: "thinking_step", Content: chunk})
		}
		f.h.OnBoundary(BoundaryEvent{Name: "thinking_end", Content: f.reasoning.String()})
		f.reasoning.Reset()
		f.inThink = false
		f.buf.Reset()
		f.buf.WriteString(s[idx+len(thinkClose):])
	}
}

// flush emits whatever remains buffered once the backend stream ends.
func (f *thinkFilter) flush() {
	s := f.buf.String()
	if s == "" {
		return
	}
	if f.inThink {
		f.reasoning.WriteString(s)
		f.h.OnBoundary(BoundaryEvent{Name: "thinking_step", Content: s})
		f.h.OnBoundary(BoundaryEvent{Name: "thinking_end", Content: f.reasoning.String()})
	} else {
		f.h.OnDelta(Delta{Text: s})
	}
	f.buf.Reset()
}

func (f *thinkFilter) OnDone()      {}
func (f *thinkFilter) OnCancelled() {}

// partialSuffixLen returns the length of the longest suffix of s that is a
// proper prefix of marker, so a marker split across two chunks is never
// emitted as visible content.
func partialSuffixLen(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(s, marker[:n]) {
			return n
		}
	}
	return 0
}
