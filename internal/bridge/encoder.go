package bridge

import (
	"imebridge/internal/protocol"
	"imebridge/internal/textstore"
)

// RangeSource is what the range encoder reads. *textstore.Store implements it.
type RangeSource interface {
	Selection() (start, end int)
	ComposingRange() (start, end int, ok bool)
	NextSpanTransition(start, limit int, filter textstore.Filter) int
	Spans(start, end int, filter textstore.Filter) []textstore.Span
}

// Underline thickness thresholds, in pixels.
const (
	dottedMaxThickness = 0.5
	boldMinThickness   = 2
)

// EncodeRanges computes the messages that bring the engine's composition and
// selection in line with src. hadComposition tells whether a composition was
// sent previously and may need removing.
//
// With a composition the result is an optional caret range, one range per
// run of uniform styling (split at the selection edges) with offsets relative
// to the composition start, then UpdateComposition.
func EncodeRanges(src RangeSource, hadComposition bool) []protocol.Message {
	selStart, selEnd := src.Selection()
	cs, ce, ok := src.ComposingRange()

	var out []protocol.Message
	if !ok || cs >= ce {
		if hadComposition {
			out = append(out, protocol.RemoveComposition{})
		}
		if selStart >= 0 && selEnd >= 0 {
			out = append(out, protocol.SetSelection{Start: selStart, End: selEnd})
		}
		return out
	}

	if selEnd >= cs && selEnd <= ce {
		out = append(out, protocol.AddCompositionRange{
			Start:     selEnd - cs,
			End:       selEnd - cs,
			RangeKind: protocol.RangeCaretPosition,
		})
	}

	for rangeStart := cs; rangeStart < ce; {
		rangeEnd := src.NextSpanTransition(rangeStart, ce, nil)
		if selStart > rangeStart && selStart < rangeEnd {
			rangeEnd = selStart
		} else if selEnd > rangeStart && selEnd < rangeEnd {
			rangeEnd = selEnd
		}
		selected := rangeStart == selStart && rangeEnd == selEnd

		r := protocol.AddCompositionRange{Start: rangeStart - cs, End: rangeEnd - cs}
		if style, styled := mergedStyle(src.Spans(rangeStart, rangeEnd, textstore.StyleSpans)); styled {
			r.RangeKind = protocol.RangeConvertedText
			if selected {
				r.RangeKind = protocol.RangeSelectedConvertedText
			}
			applyStyle(&r, style)
		} else {
			r.RangeKind = protocol.RangeRawInput
			if selected {
				r.RangeKind = protocol.RangeSelectedRawText
			}
		}
		out = append(out, r)
		rangeStart = rangeEnd
	}

	return append(out, protocol.UpdateComposition{Start: cs, End: ce})
}

func mergedStyle(spans []textstore.Span) (textstore.Style, bool) {
	var st textstore.Style
	styled := false
	for _, sp := range spans {
		if sp.Start == sp.End || sp.Style == nil {
			continue
		}
		sp.Style.MergeInto(&st)
		styled = true
	}
	return st, styled
}

func applyStyle(r *protocol.AddCompositionRange, st textstore.Style) {
	switch {
	case st.UnderlineColor != 0:
		r.Styles |= protocol.RangeUnderline | protocol.RangeLineColor
		r.LineColor = uint32(st.UnderlineColor)
		if st.UnderlineThickness <= dottedMaxThickness {
			r.LineStyle = protocol.LineDotted
		} else {
			r.LineStyle = protocol.LineSolid
		}
		r.BoldLine = st.UnderlineThickness >= boldMinThickness
	case st.Underline:
		r.Styles |= protocol.RangeUnderline
		r.LineStyle = protocol.LineSolid
	}
	if st.ForeColor != 0 {
		r.Styles |= protocol.RangeForeColor
		r.ForeColor = uint32(st.ForeColor)
	}
	if st.BackColor != 0 {
		r.Styles |= protocol.RangeBackColor
		r.BackColor = uint32(st.BackColor)
	}
}

// Run is one composition range recovered by DecodeRuns, in buffer offsets.
type Run struct {
	Start  int
	End    int
	Kind   protocol.RangeKind
	Styles protocol.RangeStyle
}

// Composition is a composition recovered from encoded messages.
type Composition struct {
	Start int
	End   int
	Caret int // -1 without a caret range
	Runs  []Run
}

// DecodeRuns rebuilds the composition described by msgs, as produced by
// EncodeRanges. It reports false if msgs carry no UpdateComposition.
func DecodeRuns(msgs []protocol.Message) (Composition, bool) {
	c := Composition{Caret: -1}
	var ranges []protocol.AddCompositionRange
	for _, m := range msgs {
		switch m := m.(type) {
		case protocol.AddCompositionRange:
			ranges = append(ranges, m)
		case protocol.UpdateComposition:
			c.Start, c.End = m.Start, m.End
			for _, r := range ranges {
				if r.RangeKind == protocol.RangeCaretPosition {
					c.Caret = c.Start + r.Start
					continue
				}
				c.Runs = append(c.Runs, Run{
					Start:  c.Start + r.Start,
					End:    c.Start + r.End,
					Kind:   r.RangeKind,
					Styles: r.Styles,
				})
			}
			return c, true
		}
	}
	return Composition{Caret: -1}, false
}
