package chess

// Color is one side of the board
type Color string

// The two sides of a game
const (
	White Color = "white"
	Black Color = "black"
)

// Opp returns the opposite color for the given color.
func (c Color) Opp() Color {
	if c == White {
		return Black
	}

	return White
}

// Valid reports whether c names one of the two sides
func (c Color) Valid() bool {
	return c == White || c == Black
}
