package grid

import "fmt"

type Pos struct {
	X int
	Y int
	Z int
}

func (p Pos) String() string { return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z) }

func (p Pos) Add(d Pos) Pos { return Pos{X: p.X + d.X, Y: p.Y + d.Y, Z: p.Z + d.Z} }

// Less orders positions by Y, then Z, then X.
func (p Pos) Less(o Pos) bool {
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	if p.Z != o.Z {
		return p.Z < o.Z
	}
	return p.X < o.X
}

type Dir uint8

const (
	Down Dir = iota
	Up
	North
	South
	West
	East
)

// Dirs is the fixed neighbor enumeration order.
var Dirs = [6]Dir{Down, Up, North, South, West, East}

var dirOffsets = [6]Pos{
	{X: 0, Y: -1, Z: 0},
	{X: 0, Y: 1, Z: 0},
	{X: 0, Y: 0, Z: -1},
	{X: 0, Y: 0, Z: 1},
	{X: -1, Y: 0, Z: 0},
	{X: 1, Y: 0, Z: 0},
}

var dirNames = [6]string{"down", "up", "north", "south", "west", "east"}

func (d Dir) Offset() Pos { return dirOffsets[d] }

func (d Dir) String() string {
	if int(d) >= len(dirNames) {
		return fmt.Sprintf("dir(%d)", d)
	}
	return dirNames[d]
}

func (d Dir) Opposite() Dir { return d ^ 1 }
