package game

import (
	"crypto/rand"
	"math"
	"math/big"
)

// World is the static configuration every State operation is checked
// against. It never changes after startup.
type World struct {
	MinX, MaxX, MinY, MaxY float64
	Step                   float64
	CollisionRadius        float64
	AttackRange            float64
	CritProb               float64
	BaseDamage             int
}

// DefaultWorld returns a World with the standard arena dimensions.
func DefaultWorld() World {
	return World{
		MinX: -100, MaxX: 100, MinY: -100, MaxY: 100,
		Step:            14.0,
		CollisionRadius: 7.0,
		AttackRange:     28.0,
		CritProb:        0.15,
		BaseDamage:      10,
	}
}

// InBounds reports whether (x,y) lies within world bounds, inclusive.
func (w World) InBounds(x, y float64) bool {
	return x >= w.MinX && x <= w.MaxX && y >= w.MinY && y <= w.MaxY
}

// Clamp clamps (x,y) to the nearest point within world bounds.
func (w World) Clamp(x, y float64) (float64, float64) {
	if x < w.MinX {
		x = w.MinX
	} else if x > w.MaxX {
		x = w.MaxX
	}
	if y < w.MinY {
		y = w.MinY
	} else if y > w.MaxY {
		y = w.MaxY
	}
	return x, y
}

// Distance returns the Euclidean distance between two points.
func Distance(x1, y1, x2, y2 float64) float64 {
	dx, dy := x1-x2, y1-y2
	return math.Sqrt(dx*dx + dy*dy)
}

// cryptoFloat01 returns a uniform random float64 in [0,1) from a
// cryptographically strong source, per the RNG requirement covering
// padding, crit rolls, display-ID generation, and jitter.
func cryptoFloat01() float64 {
	const precision = 1 << 53
	n, err := rand.Int(rand.Reader, big.NewInt(precision))
	if err != nil {
		return 0
	}
	return float64(n.Int64()) / float64(precision)
}

// cryptoIntn returns a uniform random int in [0,n) from a
// cryptographically strong source.
func cryptoIntn(n int) int {
	if n <= 0 {
		return 0
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}

// RollCrit reports whether an attack with probability p critically hits.
func RollCrit(p float64) bool {
	return cryptoFloat01() < p
}

// RandomFreePosition finds a position within world bounds at least
// CollisionRadius away from every point in occupied, retrying up to
// maxAttempts times before falling back to the world center.
func (w World) RandomFreePosition(occupied []struct{ X, Y float64 }, maxAttempts int) (float64, float64) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		x := w.MinX + cryptoFloat01()*(w.MaxX-w.MinX)
		y := w.MinY + cryptoFloat01()*(w.MaxY-w.MinY)
		free := true
		for _, o := range occupied {
			if Distance(x, y, o.X, o.Y) < w.CollisionRadius {
				free = false
				break
			}
		}
		if free {
			return x, y
		}
	}
	return (w.MinX + w.MaxX) / 2, (w.MinY + w.MaxY) / 2
}
