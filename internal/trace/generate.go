package trace

import (
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/okian/caretd/internal/domain/caret"
)

// Segment kinds the generator strings together.
const (
	segBurst = iota
	segShortPause
	segLongPause
	segDeleteRun
	segPaste
	segJump
	segSelect
	segCompose
	segCount
)

// segmentWeights is how often each segment is picked. Bursts dominate,
// like real typing.
var segmentWeights = [segCount]int{
	segBurst:      10,
	segShortPause: 4,
	segLongPause:  2,
	segDeleteRun:  2,
	segPaste:      1,
	segJump:       1,
	segSelect:     1,
	segCompose:    1,
}

// Generator produces synthetic typing sessions. The same seed and options
// yield the same steps.
type Generator struct {
	rng        *rand.Rand
	field      caret.FieldKind
	modality   caret.InputModality
	thresholds caret.Thresholds
	tickMS     uint64

	at    uint64
	caret uint32
	text  uint32
	steps []Step
}

// NewGenerator creates a Generator seeded with seed.
func NewGenerator(seed uint64, opts ...GenOption) *Generator {
	g := &Generator{
		rng:        rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), //nolint:gosec // deterministic traces
		field:      caret.FieldTextArea,
		modality:   caret.ModalityKeyboard,
		thresholds: caret.DefaultThresholds(),
		tickMS:     75,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate builds a trace with roughly keystrokes typed characters. It
// opens with focus and closes with blur.
func (g *Generator) Generate(keystrokes int) *Trace {
	g.at, g.caret, g.text = 1_000, 0, 0
	g.steps = make([]Step, 0, keystrokes+keystrokes/4+2)

	g.push(caret.KindFocusIn, inputNone)
	typed := 0
	for typed < keystrokes {
		switch g.pick() {
		case segBurst:
			typed += g.burst(min(keystrokes-typed, 3+g.rng.IntN(18)))
		case segShortPause:
			g.at += g.between(g.thresholds.ShortPauseMS, g.thresholds.LongPauseMS)
		case segLongPause:
			g.at += g.between(g.thresholds.LongPauseMS, g.thresholds.LongPauseMS*2)
		case segDeleteRun:
			g.deleteRun(int(g.thresholds.DeleteBurstMin) + g.rng.IntN(5))
		case segPaste:
			g.paste(5 + uint32(g.rng.IntN(40)))
		case segJump:
			g.jump()
		case segSelect:
			g.selectRange()
		case segCompose:
			typed += g.compose(1 + g.rng.IntN(4))
		}
	}
	g.at += g.between(40, 200)
	g.push(caret.KindFocusOut, inputNone)

	tier := caret.TierCPU
	th := g.thresholds
	return &Trace{
		ID:         uuid.NewString(),
		Name:       "synthetic",
		DeviceTier: &tier,
		Thresholds: &th,
		TickMS:     g.tickMS,
		EndMS:      g.at + th.LongPauseMS,
		Steps:      g.steps,
	}
}

func (g *Generator) pick() int {
	total := 0
	for _, w := range segmentWeights {
		total += w
	}
	n := g.rng.IntN(total)
	for i, w := range segmentWeights {
		if n < w {
			return i
		}
		n -= w
	}
	return segBurst
}

// between returns a duration in [lo, hi).
func (g *Generator) between(lo, hi uint64) uint64 {
	if hi <= lo {
		return lo
	}
	return lo + g.rng.Uint64N(hi-lo)
}

func (g *Generator) push(kind caret.EventKind, input int) {
	g.steps = append(g.steps, Step{
		Kind:      kind,
		AtMS:      g.at,
		Caret:     g.caret,
		TextLen:   g.text,
		Modality:  g.modality,
		Field:     g.field,
		InputType: inputTypeName(input),
	})
}

func (g *Generator) burst(n int) int {
	for range n {
		g.at += g.between(40, g.thresholds.ShortPauseMS*2/3)
		g.caret++
		g.text++
		g.push(caret.KindKeyDown, inputNone)
	}
	return n
}

func (g *Generator) deleteRun(n int) {
	for range n {
		if g.caret == 0 {
			return
		}
		gap := max(g.thresholds.DeleteBurstWindow/2, 1)
		g.at += g.between(gap/2, gap)
		g.caret--
		g.text--
		g.push(caret.KindInput, inputDelete)
	}
}

func (g *Generator) paste(n uint32) {
	g.at += g.between(100, 400)
	g.caret += n
	g.text += n
	mod := g.modality
	g.modality = caret.ModalityPaste
	g.push(caret.KindPaste, inputPaste)
	g.modality = mod
	g.at += g.thresholds.DecayMS
}

func (g *Generator) jump() {
	if g.text <= g.thresholds.JumpThresholdChars {
		return
	}
	g.at += g.between(150, 600)
	g.caret = uint32(g.rng.IntN(int(g.text) + 1))
	g.push(caret.KindPointerDown, inputNone)
}

func (g *Generator) selectRange() {
	if g.text < 2 {
		return
	}
	g.at += g.between(150, 600)
	start := uint32(g.rng.IntN(int(g.text)))
	end := start + 1 + uint32(g.rng.IntN(int(g.text-start)))
	g.steps = append(g.steps, Step{
		Kind:      caret.KindSelectionChange,
		AtMS:      g.at,
		Caret:     end,
		TextLen:   g.text,
		Selection: &Span{Start: start, End: end},
		Modality:  g.modality,
		Field:     g.field,
	})
	g.caret = end
	// collapse again before typing resumes
	g.at += g.between(80, 300)
	g.push(caret.KindSelectionChange, inputNone)
}

func (g *Generator) compose(n int) int {
	mod := g.modality
	g.modality = caret.ModalityIME
	g.at += g.between(40, 200)
	g.pushIME(caret.KindCompositionStart, true)
	for range n {
		g.at += g.between(40, 200)
		g.caret++
		g.text++
		g.pushIME(caret.KindCompositionUpdate, true)
	}
	g.at += g.between(40, 200)
	g.pushIME(caret.KindCompositionEnd, false)
	g.modality = mod
	return n
}

func (g *Generator) pushIME(kind caret.EventKind, active bool) {
	g.push(kind, inputNone)
	g.steps[len(g.steps)-1].IME = active
}

// Input-type hints emitted by the generator.
const (
	inputNone = iota
	inputDelete
	inputPaste
)

func inputTypeName(t int) string {
	switch t {
	case inputDelete:
		return "deleteContentBackward"
	case inputPaste:
		return "insertFromPaste"
	default:
		return ""
	}
}
