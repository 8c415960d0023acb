package textstore

// Text is an immutable spanned string: the payload of a replacement.
// Span offsets are relative to the start of the text.
type Text struct {
	runes []rune
	spans []Span
}

// Plain returns s as a Text with no spans.
func Plain(s string) Text {
	return Text{runes: []rune(s)}
}

// Len returns the length of t in runes.
func (t Text) Len() int { return len(t.runes) }

// String returns the characters of t.
func (t Text) String() string { return string(t.runes) }

// Spans returns a copy of the spans attached to t.
func (t Text) Spans() []Span {
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// WithSpan returns a copy of t with sp set, clipped to the bounds of t.
// A span with the same key is replaced.
func (t Text) WithSpan(sp Span) Text {
	sp.Start = clamp(sp.Start, 0, len(t.runes))
	sp.End = clamp(sp.End, sp.Start, len(t.runes))
	sp.Style = cloneStyle(sp.Style)

	spans := make([]Span, 0, len(t.spans)+1)
	replaced := false
	for _, cur := range t.spans {
		if cur.Key == sp.Key {
			spans = append(spans, sp)
			replaced = true
			continue
		}
		spans = append(spans, cur)
	}
	if !replaced {
		spans = append(spans, sp)
	}
	return Text{runes: t.runes, spans: spans}
}

// Overlay returns a copy of t carrying the spans of src shifted by offset.
// Characters of t are kept; spans falling outside t are clipped.
func (t Text) Overlay(src Text, offset int) Text {
	out := t
	for _, sp := range src.spans {
		sp.Start += offset
		sp.End += offset
		if sp.End < 0 || sp.Start > len(t.runes) {
			continue
		}
		out = out.WithSpan(sp)
	}
	return out
}

// Slice returns t[start:end] with spans clipped to the slice.
func (t Text) Slice(start, end int) Text {
	start = clamp(start, 0, len(t.runes))
	end = clamp(end, start, len(t.runes))
	out := Text{runes: append([]rune(nil), t.runes[start:end]...)}
	for _, sp := range t.spans {
		if !overlaps(sp.Start, sp.End, start, end) {
			continue
		}
		sp.Start = max(sp.Start, start) - start
		sp.End = min(sp.End, end) - start
		out.spans = append(out.spans, sp)
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
