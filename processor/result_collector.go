package processor

// ResultCollector gathers per-image results arriving in completion order
// and emits them once, in collection order.
type ResultCollector struct {
	In       chan *MaskResult
	Out      chan []*MaskResult
	OnResult func(*MaskResult)
	size     int
}

func NewResultCollector(size int, onResult func(*MaskResult)) *ResultCollector {
	return &ResultCollector{
		In:       make(chan *MaskResult, size+1),
		Out:      make(chan []*MaskResult, 1),
		OnResult: onResult,
		size:     size,
	}
}

func (c *ResultCollector) Run() {
	defer close(c.Out)

	results := make([]*MaskResult, c.size)
	for res := range c.In {
		results[res.Position] = res
		if c.OnResult != nil {
			c.OnResult(res)
		}
	}
	c.Out <- results
}
