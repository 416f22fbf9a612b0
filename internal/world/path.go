package world

import (
	"container/heap"
	"fmt"
	"math"
)

// Path is a sequence of cities and the sum of base distances along it.
type Path struct {
	Cities   []string `json:"cities"`
	Distance float64  `json:"distance"`
}

type pathItem struct {
	city string
	cost float64
	seq  int
}

// pathQueue orders by cost, then by discovery sequence so equal-cost
// candidates settle in the order they were found.
type pathQueue []pathItem

func (q pathQueue) Len() int { return len(q) }
func (q pathQueue) Less(i, j int) bool {
	if q[i].cost != q[j].cost {
		return q[i].cost < q[j].cost
	}
	return q[i].seq < q[j].seq
}
func (q pathQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)   { *q = append(*q, x.(pathItem)) }
func (q *pathQueue) Pop() any {
	old := *q
	it := old[len(old)-1]
	*q = old[:len(old)-1]
	return it
}

// ShortestPath finds the cheapest open path from a to b where each road
// weighs base_distance × fuel_multiplier. Neighbours are relaxed in route
// insertion order and only strictly cheaper paths replace a known one, so
// among equal-cost paths the first discovered is kept.
func (w *World) ShortestPath(a, b string) (Path, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.shortestPathLocked(a, b)
}

func (w *World) shortestPathLocked(a, b string) (Path, error) {
	for _, name := range []string{a, b} {
		if _, ok := w.cities[name]; !ok {
			return Path{}, fmt.Errorf("%w: %s", ErrUnknownCity, name)
		}
	}
	if a == b {
		return Path{Cities: []string{a}}, nil
	}

	cost := map[string]float64{a: 0}
	prev := map[string]string{}
	settled := map[string]bool{}
	seq := 0
	q := &pathQueue{{city: a, cost: 0, seq: seq}}

	for q.Len() > 0 {
		it := heap.Pop(q).(pathItem)
		if settled[it.city] {
			continue
		}
		settled[it.city] = true
		if it.city == b {
			break
		}
		for _, k := range w.adjacency[it.city] {
			r := w.routes[k]
			if !r.IsOpen {
				continue
			}
			next := r.other(it.city)
			if settled[next] {
				continue
			}
			c := it.cost + r.BaseDistance*r.FuelMultiplier
			if known, ok := cost[next]; ok && c >= known {
				continue
			}
			cost[next] = c
			prev[next] = it.city
			seq++
			heap.Push(q, pathItem{city: next, cost: c, seq: seq})
		}
	}

	if !settled[b] {
		return Path{}, fmt.Errorf("%w: %s to %s", ErrNoRoute, a, b)
	}

	var rev []string
	for c := b; ; c = prev[c] {
		rev = append(rev, c)
		if c == a {
			break
		}
	}
	p := Path{Cities: make([]string, 0, len(rev))}
	for i := len(rev) - 1; i >= 0; i-- {
		p.Cities = append(p.Cities, rev[i])
	}
	for i := 1; i < len(p.Cities); i++ {
		p.Distance += w.routes[keyOf(p.Cities[i-1], p.Cities[i])].BaseDistance
	}
	return p, nil
}

// pathEffectiveDistance sums effective distance over consecutive legs.
func (w *World) pathEffectiveDistance(cities []string) float64 {
	total := 0.0
	for i := 1; i < len(cities); i++ {
		r, ok := w.routes[keyOf(cities[i-1], cities[i])]
		if !ok {
			return math.Inf(1)
		}
		total += r.EffectiveDistance()
	}
	return total
}

// pathWeather returns the worst weather along a path.
func (w *World) pathWeather(cities []string) WeatherStatus {
	worst := WeatherClear
	for i := 1; i < len(cities); i++ {
		r := w.routes[keyOf(cities[i-1], cities[i])]
		if r != nil && r.Weather.Multiplier() > worst.Multiplier() {
			worst = r.Weather
		}
	}
	return worst
}
