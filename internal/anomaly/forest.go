// Package anomaly scores sibling sets with a randomized isolation
// ensemble. Scoring is reproducible: the same seed and sample set yield
// bit-identical scores regardless of scheduling, because every tree
// draws from a private sub-seed rather than a shared random stream.
package anomaly

import (
	"context"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// featureDims is the feature vector width: raw count plus the
// peer-baseline-normalized rate.
const featureDims = 2

// eulerGamma is the Euler–Mascheroni constant used by the isolation
// path-length normalization.
const eulerGamma = 0.5772156649015329

// forest is a fitted isolation ensemble over one sibling sample set.
type forest struct {
	trees []*isoTree
	psi   int // subsample size the trees were grown on
}

type isoTree struct {
	root *isoNode
}

type isoNode struct {
	splitDim int
	splitVal float64
	left     *isoNode
	right    *isoNode
	size     int // leaf only
	leaf     bool
}

// fitForest grows T isolation trees over the feature matrix. Trees are
// fitted in parallel; tree i derives its private sub-seed from the root
// seed and its index, and results land in slot i, so the fit is
// independent of goroutine scheduling.
func fitForest(ctx context.Context, features [][featureDims]float64, trees, subsample int, seed int64) (*forest, error) {
	n := len(features)
	psi := subsample
	if psi > n {
		psi = n
	}

	f := &forest{trees: make([]*isoTree, trees), psi: psi}
	maxDepth := int(math.Ceil(math.Log2(float64(psi)))) + 1

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i := 0; i < trees; i++ {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewSource(subSeed(seed, i)))
			sample := drawSubsample(rng, features, psi)
			f.trees[i] = &isoTree{root: growTree(rng, sample, 0, maxDepth)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return f, nil
}

// subSeed derives the private seed for one tree via a splitmix64 step,
// so trees never share a random stream.
func subSeed(seed int64, tree int) int64 {
	x := uint64(seed) + uint64(tree+1)*0x9e3779b97f4a7c15
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return int64(x)
}

// drawSubsample picks psi rows without replacement.
func drawSubsample(rng *rand.Rand, features [][featureDims]float64, psi int) [][featureDims]float64 {
	if psi >= len(features) {
		out := make([][featureDims]float64, len(features))
		copy(out, features)
		return out
	}
	idx := rng.Perm(len(features))[:psi]
	out := make([][featureDims]float64, psi)
	for i, j := range idx {
		out[i] = features[j]
	}
	return out
}

// growTree recursively partitions the sample with random axis-aligned
// splits until isolation, depth exhaustion, or zero spread.
func growTree(rng *rand.Rand, sample [][featureDims]float64, depth, maxDepth int) *isoNode {
	if len(sample) <= 1 || depth >= maxDepth {
		return &isoNode{leaf: true, size: len(sample)}
	}

	// collect dimensions with spread
	var lo, hi [featureDims]float64
	lo = sample[0]
	hi = sample[0]
	for _, v := range sample[1:] {
		for d := 0; d < featureDims; d++ {
			if v[d] < lo[d] {
				lo[d] = v[d]
			}
			if v[d] > hi[d] {
				hi[d] = v[d]
			}
		}
	}
	var splittable []int
	for d := 0; d < featureDims; d++ {
		if hi[d] > lo[d] {
			splittable = append(splittable, d)
		}
	}
	if len(splittable) == 0 {
		return &isoNode{leaf: true, size: len(sample)}
	}

	dim := splittable[rng.Intn(len(splittable))]
	val := lo[dim] + rng.Float64()*(hi[dim]-lo[dim])

	var left, right [][featureDims]float64
	for _, v := range sample {
		if v[dim] < val {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &isoNode{leaf: true, size: len(sample)}
	}

	return &isoNode{
		splitDim: dim,
		splitVal: val,
		left:     growTree(rng, left, depth+1, maxDepth),
		right:    growTree(rng, right, depth+1, maxDepth),
	}
}

// pathLength walks one tree for a point, crediting unexpanded leaves
// with the average depth of an unbuilt subtree of their size.
func (t *isoTree) pathLength(v [featureDims]float64) float64 {
	depth := 0.0
	node := t.root
	for !node.leaf {
		if v[node.splitDim] < node.splitVal {
			node = node.left
		} else {
			node = node.right
		}
		depth++
	}
	return depth + avgPathLength(node.size)
}

// score computes the normalized anomaly score in [0,1] for a point:
// 2^(-E[h(x)] / c(psi)). Shorter average isolation path means a higher
// score. Tree order is fixed, so the float accumulation is stable.
func (f *forest) score(v [featureDims]float64) float64 {
	if len(f.trees) == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += t.pathLength(v)
	}
	mean := total / float64(len(f.trees))
	c := avgPathLength(f.psi)
	if c <= 0 {
		return 0
	}
	return math.Pow(2, -mean/c)
}

// avgPathLength is the standard isolation-forest normalization constant
// c(n): the average path length of unsuccessful BST search over n items.
func avgPathLength(n int) float64 {
	switch {
	case n > 2:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	case n == 2:
		return 1
	default:
		return 0
	}
}
