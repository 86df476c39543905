package server

import "fmt"

// The validation pipeline is the trust boundary: everything in a client
// update is advisory, and the server re-derives what it can from its own
// stored snapshot before accepting a mutation.

// validateBoardStructure rejects any board that is not exactly 20x10 with
// cell codes in [0,7]. Structural violations are fatal, not heuristic.
func validateBoardStructure(board [][]int) error {
	if len(board) != boardRows {
		return errCheat(fmt.Sprintf("board has %d rows, want %d", len(board), boardRows))
	}
	for y, row := range board {
		if len(row) != boardCols {
			return errCheat(fmt.Sprintf("board row %d has %d cells, want %d", y, len(row), boardCols))
		}
		for x, cell := range row {
			if cell < 0 || cell > maxCellCode {
				return errCheat(fmt.Sprintf("cell [%d][%d]=%d outside [0,%d]", y, x, cell, maxCellCode))
			}
		}
	}
	return nil
}

// countFullRows derives how many rows of the stored board were fully
// occupied, which is the only legal source of a score increase.
func countFullRows(board [][]int) int {
	full := 0
	for _, row := range board {
		occupied := true
		for _, cell := range row {
			if cell == 0 {
				occupied = false
				break
			}
		}
		if occupied && len(row) > 0 {
			full++
		}
	}
	return full
}

func countOccupiedCells(board [][]int) int {
	count := 0
	for _, row := range board {
		for _, cell := range row {
			if cell != 0 {
				count++
			}
		}
	}
	return count
}

// validateScoreDelta checks the reported score against the clear value the
// previous board actually supported. level is the client-reported level at
// the time of the clear.
func validateScoreDelta(prevBoard [][]int, prevScore, newScore, level int) error {
	if newScore == prevScore {
		return nil
	}
	if level < 1 {
		level = 1
	}
	fullRows := countFullRows(prevBoard)
	if fullRows > 4 {
		fullRows = 4
	}
	expected := prevScore + pointsTable[fullRows]*level
	if newScore != expected {
		return errCheat(fmt.Sprintf("score delta mismatch: reported %d, expected %d (%d full rows at level %d)", newScore, expected, fullRows, level))
	}
	return nil
}

// estimateClearedLines reverses the points table: the largest clear whose
// value at the given level fits inside the score increase.
func estimateClearedLines(scoreIncrease, level int) int {
	if level < 1 {
		level = 1
	}
	for i := len(pointsTable) - 1; i >= 1; i-- {
		if scoreIncrease >= pointsTable[i]*level {
			return i
		}
	}
	return 0
}

// blockDeltaSuspicious is the advisory cross-check: a real line clear
// removes roughly a full row of cells per line. New pieces may already
// occupy cells at submission time, so this is logged, never enforced.
func blockDeltaSuspicious(prevBoard, newBoard [][]int, scoreIncrease, level int) (estimated, decrease int, suspicious bool) {
	estimated = estimateClearedLines(scoreIncrease, level)
	if estimated == 0 {
		return 0, 0, false
	}
	decrease = countOccupiedCells(prevBoard) - countOccupiedCells(newBoard)
	return estimated, decrease, decrease < estimated*5
}
