package classifier

import (
	"math/rand"
	"runtime"
	"sort"
	"sync"
)

// Feature indices.
const (
	featAmount = iota
	featType
	featLocation
	numFeatures
)

// example is one encoded training instance.
type example struct {
	amount   float64
	typ      int
	location int
	fraud    bool
}

func (e example) categorical(f int) int {
	if f == featType {
		return e.typ
	}
	return e.location
}

// node is a CART node. Leaves carry the fraudulent class share.
type node struct {
	leaf      bool
	fraudFrac float64

	feature   int
	threshold float64 // numeric: x <= threshold goes left
	category  int     // categorical: x == category goes left
	left      *node
	right     *node
}

func (n *node) predict(e example) float64 {
	for !n.leaf {
		var goLeft bool
		if n.feature == featAmount {
			goLeft = e.amount <= n.threshold
		} else {
			goLeft = e.categorical(n.feature) == n.category
		}
		if goLeft {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.fraudFrac
}

type forest struct {
	trees []*node
}

func (f *forest) predict(e example) float64 {
	if len(f.trees) == 0 {
		return neutralProbability
	}
	var sum float64
	for _, t := range f.trees {
		sum += t.predict(e)
	}
	return sum / float64(len(f.trees))
}

type growParams struct {
	featuresPerSplit int
	maxDepth         int
	rng              *rand.Rand
}

// trainForest grows trees on bootstrap samples of data, in parallel.
// The caller owns rng; identical seeds and data give identical forests.
func trainForest(data []example, trees int, p growParams) *forest {
	if len(data) == 0 || trees <= 0 {
		return &forest{}
	}

	// Samples are drawn from the amount-sorted data in index order, and
	// partition is stable, so every node sees its data sorted by amount.
	sorted := append([]example(nil), data...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].amount < sorted[j].amount })

	seeds := make([]int64, trees)
	for i := range seeds {
		seeds[i] = p.rng.Int63()
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > trees {
		workers = trees
	}
	sem := make(chan struct{}, workers)

	f := &forest{trees: make([]*node, trees)}
	var (
		wg       sync.WaitGroup
		panicked sync.Once
		panicVal any
	)
	for i := range f.trees {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer func() {
				if r := recover(); r != nil {
					panicked.Do(func() { panicVal = r })
				}
				<-sem
				wg.Done()
			}()
			tp := p
			tp.rng = rand.New(rand.NewSource(seeds[i]))
			f.trees[i] = growTree(bootstrap(sorted, tp.rng), 0, tp)
		}(i)
	}
	wg.Wait()

	if panicVal != nil {
		panic(panicVal)
	}
	return f
}

// bootstrap draws len(sorted) examples with replacement, keeping the
// order of sorted.
func bootstrap(sorted []example, rng *rand.Rand) []example {
	n := len(sorted)
	counts := make([]int, n)
	for i := 0; i < n; i++ {
		counts[rng.Intn(n)]++
	}
	sample := make([]example, 0, n)
	for i, c := range counts {
		for ; c > 0; c-- {
			sample = append(sample, sorted[i])
		}
	}
	return sample
}

func growTree(data []example, depth int, p growParams) *node {
	frac, pure := fraudShare(data)
	if pure || len(data) < 2 || (p.maxDepth > 0 && depth >= p.maxDepth) {
		return &node{leaf: true, fraudFrac: frac}
	}

	best := findBestSplit(data, p)
	if best == nil {
		return &node{leaf: true, fraudFrac: frac}
	}

	left, right := partition(data, best)
	best.left = growTree(left, depth+1, p)
	best.right = growTree(right, depth+1, p)
	return best
}

func fraudShare(data []example) (float64, bool) {
	if len(data) == 0 {
		return neutralProbability, true
	}
	fraud := 0
	for _, e := range data {
		if e.fraud {
			fraud++
		}
	}
	return float64(fraud) / float64(len(data)), fraud == 0 || fraud == len(data)
}

// gini returns the Gini impurity of a two-class split side.
func gini(fraud, total int) float64 {
	if total == 0 {
		return 0
	}
	p := float64(fraud) / float64(total)
	return 2 * p * (1 - p)
}

// findBestSplit picks the split with the lowest weighted impurity among
// featuresPerSplit randomly chosen features. Returns nil when no split
// improves on the parent.
func findBestSplit(data []example, p growParams) *node {
	k := p.featuresPerSplit
	if k <= 0 || k > numFeatures {
		k = numFeatures
	}
	features := p.rng.Perm(numFeatures)[:k]

	totalFraud := 0
	for _, e := range data {
		if e.fraud {
			totalFraud++
		}
	}
	n := len(data)
	parent := gini(totalFraud, n)

	var best *node
	bestImpurity := parent

	for _, f := range features {
		var cand *node
		var impurity float64
		if f == featAmount {
			cand, impurity = bestNumericSplit(data, totalFraud)
		} else {
			cand, impurity = bestCategoricalSplit(data, f, totalFraud)
		}
		if cand != nil && impurity < bestImpurity {
			best, bestImpurity = cand, impurity
		}
	}
	return best
}

// bestNumericSplit scans thresholds between distinct amounts.
// data must be sorted by amount.
func bestNumericSplit(sorted []example, totalFraud int) (*node, float64) {
	n := len(sorted)
	var best *node
	bestImpurity := 2.0
	leftFraud := 0
	for i := 0; i < n-1; i++ {
		if sorted[i].fraud {
			leftFraud++
		}
		if sorted[i].amount == sorted[i+1].amount {
			continue
		}
		leftN := i + 1
		rightN := n - leftN
		impurity := (float64(leftN)*gini(leftFraud, leftN) + float64(rightN)*gini(totalFraud-leftFraud, rightN)) / float64(n)
		if impurity < bestImpurity {
			bestImpurity = impurity
			best = &node{
				feature:   featAmount,
				threshold: (sorted[i].amount + sorted[i+1].amount) / 2,
			}
		}
	}
	return best, bestImpurity
}

func bestCategoricalSplit(data []example, feature, totalFraud int) (*node, float64) {
	var counts [][2]int // value -> [total, fraud]
	for _, e := range data {
		v := e.categorical(feature)
		for v >= len(counts) {
			counts = append(counts, [2]int{})
		}
		counts[v][0]++
		if e.fraud {
			counts[v][1]++
		}
	}
	distinct := 0
	for _, c := range counts {
		if c[0] > 0 {
			distinct++
		}
	}
	if distinct < 2 {
		return nil, 0
	}

	n := len(data)
	var best *node
	bestImpurity := 2.0
	for v, c := range counts {
		inN, inFraud := c[0], c[1]
		if inN == 0 {
			continue
		}
		outN := n - inN
		impurity := (float64(inN)*gini(inFraud, inN) + float64(outN)*gini(totalFraud-inFraud, outN)) / float64(n)
		if impurity < bestImpurity {
			bestImpurity = impurity
			best = &node{feature: feature, category: v}
		}
	}
	return best, bestImpurity
}

// partition splits data in order, so sorted input gives sorted halves.
func partition(data []example, split *node) (left, right []example) {
	for _, e := range data {
		var goLeft bool
		if split.feature == featAmount {
			goLeft = e.amount <= split.threshold
		} else {
			goLeft = e.categorical(split.feature) == split.category
		}
		if goLeft {
			left = append(left, e)
		} else {
			right = append(right, e)
		}
	}
	return left, right
}
