package grid

import "fmt"

// Pos is a zero-based (row, col) coordinate.
type Pos struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.Row, p.Col) }

// Wire converts to the [row, col] pair used by the protocol.
func (p Pos) Wire() [2]int { return [2]int{p.Row, p.Col} }

func FromWire(v [2]int) Pos { return Pos{Row: v[0], Col: v[1]} }

type CellType string

const (
	CellPath                CellType = "PATH"
	CellBuilding            CellType = "BUILDING"
	CellField               CellType = "FIELD"
	CellObstacle            CellType = "OBSTACLE"
	CellManufacturingCenter CellType = "MANUFACTURING_CENTER"
)

// Layout legend. '.' is accepted as an alias for a path cell when parsing.
var legend = map[byte]CellType{
	'P': CellPath,
	'.': CellPath,
	'B': CellBuilding,
	'F': CellField,
	'#': CellObstacle,
	'M': CellManufacturingCenter,
}

func symbolFor(t CellType) byte {
	switch t {
	case CellPath:
		return 'P'
	case CellBuilding:
		return 'B'
	case CellField:
		return 'F'
	case CellManufacturingCenter:
		return 'M'
	default:
		return '#'
	}
}

type Cell struct {
	Pos  Pos      `json:"pos"`
	Type CellType `json:"type"`
}

func (c Cell) IsPath() bool { return c.Type == CellPath }
