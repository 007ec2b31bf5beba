// Package game holds the rules of a single 3x3 tic-tac-toe board.
package game

import "encoding/json"

// Symbol is the marker a participant places on the board.
type Symbol string

const (
	Empty Symbol = ""
	X     Symbol = "X"
	O     Symbol = "O"
)

// Other returns the opposing symbol. Empty maps to Empty.
func (s Symbol) Other() Symbol {
	switch s {
	case X:
		return O
	case O:
		return X
	}
	return Empty
}

func (s Symbol) Valid() bool {
	return s == X || s == O
}

// Cells is the number of cells on the board.
const Cells = 9

// Board is laid out row-major: 0,1,2 is the top row, 6,7,8 the bottom row.
type Board [Cells]Symbol

var winningCombinations = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// InRange reports whether index addresses a cell.
func InRange(index int) bool {
	return index >= 0 && index < Cells
}

// Winner returns the symbol owning a complete line, or Empty.
func (b *Board) Winner() Symbol {
	for _, combo := range winningCombinations {
		s := b[combo[0]]
		if s != Empty && b[combo[1]] == s && b[combo[2]] == s {
			return s
		}
	}
	return Empty
}

// Full reports whether no empty cell remains.
func (b *Board) Full() bool {
	for _, cell := range b {
		if cell == Empty {
			return false
		}
	}
	return true
}

// Evaluate computes the outcome of the board as it stands.
func (b *Board) Evaluate() Outcome {
	if w := b.Winner(); w != Empty {
		return Win(w)
	}
	if b.Full() {
		return Draw()
	}
	return None()
}

func (b Board) MarshalJSON() ([]byte, error) {
	cells := make([]string, Cells)
	for i, c := range b {
		cells[i] = string(c)
	}
	return json.Marshal(cells)
}
