package types

// Usage is token accounting for one model call.
type Usage struct {
	Input       int64 `json:"input"`
	Output      int64 `json:"output"`
	CacheRead   int64 `json:"cacheRead"`
	CacheWrite  int64 `json:"cacheWrite"`
	TotalTokens int64 `json:"totalTokens,omitempty"`
	Cost        *Cost `json:"cost,omitempty"`
}

// Cost is the dollar cost of one model call.
type Cost struct {
	Input      float64 `json:"input"`
	Output     float64 `json:"output"`
	CacheRead  float64 `json:"cacheRead"`
	CacheWrite float64 `json:"cacheWrite"`
	Total      float64 `json:"total"`
}

// Sum returns input + output + cacheRead + cacheWrite.
func (u Usage) Sum() int64 {
	return u.Input + u.Output + u.CacheRead + u.CacheWrite
}

// Normalize sets TotalTokens to the component sum.
func (u *Usage) Normalize() {
	u.TotalTokens = u.Sum()
	if u.Cost != nil {
		u.Cost.Total = u.Cost.Input + u.Cost.Output + u.Cost.CacheRead + u.Cost.CacheWrite
	}
}

// ContextTokens is the total context size the usage implies.
func (u Usage) ContextTokens() int64 {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.Sum()
}
