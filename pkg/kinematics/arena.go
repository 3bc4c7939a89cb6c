package kinematics

import (
	"fmt"
	"math"
)

// Arena 格子地图，墙格不可通行。
// 坐标 x 向右、y 向下，原点在左上角；z 不参与碰撞
type Arena struct {
	TileSize float64
	Width    int // 格子数
	Height   int
	walls    []bool
}

// DefaultArena 服务器与客户端共用的默认地图，两端必须一致
func DefaultArena() *Arena {
	return NewArena(24, 16, 64)
}

// NewArena 创建四周有墙的空地图
func NewArena(width, height int, tileSize float64) *Arena {
	a := &Arena{TileSize: tileSize, Width: width, Height: height, walls: make([]bool, width*height)}
	for x := 0; x < width; x++ {
		a.walls[x] = true
		a.walls[(height-1)*width+x] = true
	}
	for y := 0; y < height; y++ {
		a.walls[y*width] = true
		a.walls[y*width+width-1] = true
	}
	return a
}

// ParseArena 从字符画加载地图，'#' 为墙，其余字符为空地
func ParseArena(rows []string, tileSize float64) (*Arena, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("地图为空")
	}
	w := len(rows[0])
	a := &Arena{TileSize: tileSize, Width: w, Height: len(rows), walls: make([]bool, w*len(rows))}
	for y, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("第 %d 行宽度 %d 与首行 %d 不一致", y, len(row), w)
		}
		for x, c := range row {
			a.walls[y*w+x] = c == '#'
		}
	}
	return a, nil
}

// IsWall 越界视为墙
func (a *Arena) IsWall(gx, gy int) bool {
	if gx < 0 || gy < 0 || gx >= a.Width || gy >= a.Height {
		return true
	}
	return a.walls[gy*a.Width+gx]
}

// SetWall 设置格子
func (a *Arena) SetWall(gx, gy int, wall bool) {
	if gx < 0 || gy < 0 || gx >= a.Width || gy >= a.Height {
		return
	}
	a.walls[gy*a.Width+gx] = wall
}

// CanOccupy 以 (x, y) 为中心、半径 r 的碰撞盒是否完全落在空地上
func (a *Arena) CanOccupy(x, y, r float64) bool {
	minX, maxX := x-r, x+r
	minY, maxY := y-r, y+r
	if minX < 0 || minY < 0 || maxX > float64(a.Width)*a.TileSize || maxY > float64(a.Height)*a.TileSize {
		return false
	}
	// 右、下边界贴着格线时不算进入下一格
	startX := int(math.Floor(minX / a.TileSize))
	endX := int(math.Ceil(maxX/a.TileSize)) - 1
	startY := int(math.Floor(minY / a.TileSize))
	endY := int(math.Ceil(maxY/a.TileSize)) - 1
	for gy := startY; gy <= endY; gy++ {
		for gx := startX; gx <= endX; gx++ {
			if a.IsWall(gx, gy) {
				return false
			}
		}
	}
	return true
}

// CellCenter 格子中心坐标
func (a *Arena) CellCenter(gx, gy int) (float64, float64) {
	return (float64(gx) + 0.5) * a.TileSize, (float64(gy) + 0.5) * a.TileSize
}

// SpawnPoints 所有空地格子的中心，按行优先顺序
func (a *Arena) SpawnPoints() [][2]float64 {
	var out [][2]float64
	for gy := 0; gy < a.Height; gy++ {
		for gx := 0; gx < a.Width; gx++ {
			if !a.IsWall(gx, gy) {
				x, y := a.CellCenter(gx, gy)
				out = append(out, [2]float64{x, y})
			}
		}
	}
	return out
}
