package meeting

// DefaultChunkSamples 每次送去声纹识别的最少 16-bit 采样数。
const DefaultChunkSamples = 2048

// DefaultConfidenceThreshold 声纹识别得分必须严格大于该值才被接受。
const DefaultConfidenceThreshold = 0.9

// Candidate 是识别引擎返回的候选身份。
type Candidate struct {
	Identity Identity
	Score    float64
}

// ConfidenceGate 过滤低置信度或未识别的候选。
type ConfidenceGate struct {
	Threshold float64
}

// Accept 报告候选是否通过门限。
func (g ConfidenceGate) Accept(c Candidate) bool {
	return c.Identity.Valid() && c.Score > g.Threshold
}

// pcmChunker 累积 16-bit little-endian PCM，凑够 samples 个采样后整体吐出。
// 每次写入的数据若为奇数字节，丢弃最后一个字节。
type pcmChunker struct {
	minBytes int
	buf      []byte
}

func newPCMChunker(samples int) *pcmChunker {
	if samples <= 0 {
		samples = DefaultChunkSamples
	}
	return &pcmChunker{minBytes: samples * 2}
}

// Push 追加数据；缓冲达到阈值时返回整个缓冲并重置，否则返回 nil。
func (c *pcmChunker) Push(data []byte) []byte {
	if len(data)%2 == 1 {
		data = data[:len(data)-1]
	}
	if len(data) == 0 {
		return nil
	}
	c.buf = append(c.buf, data...)
	if len(c.buf) < c.minBytes {
		return nil
	}
	out := c.buf
	c.buf = nil
	return out
}

// Reset 丢弃缓冲中的数据。
func (c *pcmChunker) Reset() {
	c.buf = nil
}
