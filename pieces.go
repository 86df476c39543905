package server

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

// Piece is one server-issued tetromino. IDs are unique per draw so the
// client cannot replay or reorder pieces it has already seen.
type Piece struct {
	ID    string  `json:"id"`
	Kind  string  `json:"type"`
	Color string  `json:"color"`
	Shape [][]int `json:"shape"`
	X     int     `json:"x"`
	Y     int     `json:"y"`
}

type pieceTemplate struct {
	kind  string
	color string
	shape [][]int
}

var pieceTemplates = []pieceTemplate{
	{kind: "I", color: "#00f0f0", shape: [][]int{{1, 1, 1, 1}}},
	{kind: "O", color: "#f0f000", shape: [][]int{{1, 1}, {1, 1}}},
	{kind: "T", color: "#a000f0", shape: [][]int{{0, 1, 0}, {1, 1, 1}}},
	{kind: "S", color: "#00f000", shape: [][]int{{0, 1, 1}, {1, 1, 0}}},
	{kind: "Z", color: "#f00000", shape: [][]int{{1, 1, 0}, {0, 1, 1}}},
	{kind: "J", color: "#0000f0", shape: [][]int{{1, 0, 0}, {1, 1, 1}}},
	{kind: "L", color: "#f0a000", shape: [][]int{{0, 0, 1}, {1, 1, 1}}},
}

// pieceGenerator draws pieces uniformly from the seven canonical kinds.
// The rand source is injected so tests can fix the sequence.
type pieceGenerator struct {
	rng *rand.Rand
}

func newPieceGenerator(rng *rand.Rand) *pieceGenerator {
	return &pieceGenerator{rng: rng}
}

func (g *pieceGenerator) next() Piece {
	tpl := pieceTemplates[g.rng.Intn(len(pieceTemplates))]
	shape := make([][]int, len(tpl.shape))
	for i, row := range tpl.shape {
		shape[i] = append([]int(nil), row...)
	}
	return Piece{
		ID:    fmt.Sprintf("%s_%s", tpl.kind, uuid.NewString()),
		Kind:  tpl.kind,
		Color: tpl.color,
		Shape: shape,
		X:     3,
		Y:     0,
	}
}

// batch appends n freshly drawn pieces to seq and returns the result.
func (g *pieceGenerator) batch(seq []Piece, n int) []Piece {
	for i := 0; i < n; i++ {
		seq = append(seq, g.next())
	}
	return seq
}
