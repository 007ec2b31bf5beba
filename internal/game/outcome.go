package game

// OutcomeKind classifies how a board ended.
type OutcomeKind string

const (
	OutcomeNone OutcomeKind = "none"
	OutcomeWin  OutcomeKind = "win"
	OutcomeDraw OutcomeKind = "draw"
)

// DrawMarker is the winner value clients receive for a drawn board.
const DrawMarker = "D"

// Outcome is None, Win(symbol) or Draw.
type Outcome struct {
	Kind   OutcomeKind
	Winner Symbol
}

func None() Outcome { return Outcome{Kind: OutcomeNone} }

func Draw() Outcome { return Outcome{Kind: OutcomeDraw} }

func Win(s Symbol) Outcome { return Outcome{Kind: OutcomeWin, Winner: s} }

// Decided reports whether the board has a winner or is drawn.
func (o Outcome) Decided() bool { return o.Kind == OutcomeWin || o.Kind == OutcomeDraw }

// Marker renders the outcome the way the browser client expects it in the
// "winner" field: nil while playing, "X"/"O" for a win, "D" for a draw.
func (o Outcome) Marker() *string {
	var m string
	switch o.Kind {
	case OutcomeWin:
		m = string(o.Winner)
	case OutcomeDraw:
		m = DrawMarker
	default:
		return nil
	}
	return &m
}

// Result is a participant's view of a decided outcome.
type Result string

const (
	ResultWin  Result = "win"
	ResultLose Result = "lose"
	ResultDraw Result = "draw"
)

// ResultFor returns the result for the participant playing s. The second
// return value is false while the game is undecided.
func (o Outcome) ResultFor(s Symbol) (Result, bool) {
	switch o.Kind {
	case OutcomeDraw:
		return ResultDraw, true
	case OutcomeWin:
		if o.Winner == s {
			return ResultWin, true
		}
		return ResultLose, true
	}
	return "", false
}
