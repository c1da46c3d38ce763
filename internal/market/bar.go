package market

import "time"

// Bar 是一根日线，按时间从旧到新排列，拿到后不再修改。
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type Bars []Bar

func (bs Bars) Closes() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Close
	}
	return out
}

func (bs Bars) Highs() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.High
	}
	return out
}

func (bs Bars) Lows() []float64 {
	out := make([]float64, len(bs))
	for i, b := range bs {
		out[i] = b.Low
	}
	return out
}

// LastClose 返回最新收盘价；空序列返回 0。
func (bs Bars) LastClose() float64 {
	if len(bs) == 0 {
		return 0
	}
	return bs[len(bs)-1].Close
}
