package viewport

// Direction is an arrow-key move on the grid.
type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

// Cursor is the selected card of a grid laid out in Cols columns, of which
// Rows rows fit on screen starting at TopRow.
type Cursor struct {
	Index  int `json:"index"`
	Count  int `json:"count"`
	Cols   int `json:"cols"`
	Rows   int `json:"rows"`
	TopRow int `json:"top_row"`
}

// Move applies one arrow key. Moves that would leave the grid keep the
// selection. The grid scrolls by one row when the selection sits on the
// second visible row going up or the last visible row going down.
// Returns the scroll applied in rows (-1, 0 or 1).
func (c *Cursor) Move(d Direction) int {
	cols := max(c.Cols, 1)
	next := c.Index
	switch d {
	case Up:
		next = c.Index - cols
	case Down:
		next = c.Index + cols
	case Left:
		next = c.Index - 1
	case Right:
		next = c.Index + 1
	default:
		return 0
	}
	if next < 0 || next >= c.Count {
		return 0
	}

	visibleRow := c.Index/cols - c.TopRow
	rowChanged := c.Index/cols != next/cols
	scroll := 0
	switch d {
	case Up:
		if visibleRow <= 1 {
			scroll = -1
		}
	case Down:
		if visibleRow >= c.Rows-1 {
			scroll = 1
		}
	case Left:
		if rowChanged && visibleRow <= 1 {
			scroll = -1
		}
	case Right:
		if rowChanged && visibleRow >= c.Rows-1 {
			scroll = 1
		}
	}
	if c.TopRow+scroll < 0 {
		scroll = 0
	}

	c.Index = next
	c.TopRow += scroll
	return scroll
}

// Clamp keeps the selection inside a grid that now has count cards.
func (c *Cursor) Clamp(count int) {
	c.Count = count
	if c.Index >= count {
		c.Index = max(count-1, 0)
	}
}
