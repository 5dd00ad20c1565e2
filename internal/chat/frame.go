package chat

import (
	"bytes"
	"encoding/json"
	"errors"
)

const (
	// dataPrefix 数据帧前缀
	dataPrefix = "data:"

	// doneMarker 流结束标记
	doneMarker = "[DONE]"

	// maxFrameSize 单帧最大字节数，超过视为畸形帧丢弃
	maxFrameSize = 1 << 20
)

// FrameResult 一次 Feed 的解析结果
type FrameResult struct {
	Deltas []string // 按到达顺序排列的文本增量
	Done   bool     // 是否遇到结束标记
	Err    error    // 上游错误帧
}

// completionChunk 数据帧的 JSON 结构
// 只关心 choices[0].delta.content 和 error
type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// FrameParser 增量解析以换行分隔的流式帧
//
// 传输层不保证分块与帧对齐，所以不完整的行（包括被拆开的多字节字符）
// 会留在缓冲区里，等下一块数据到达后再解析。解码失败的帧直接跳过。
// 零值可直接使用，不支持并发调用。
type FrameParser struct {
	buf      []byte
	done     bool
	overflow bool
}

// NewFrameParser 创建帧解析器
func NewFrameParser() *FrameParser {
	return &FrameParser{}
}

// Done 是否已遇到结束标记
func (p *FrameParser) Done() bool {
	return p.done
}

// Feed 输入一块原始字节，返回其中所有完整帧的解析结果
// 结束标记之后的字节全部忽略
func (p *FrameParser) Feed(chunk []byte) FrameResult {
	var res FrameResult
	if p.done {
		res.Done = true
		return res
	}

	p.buf = append(p.buf, chunk...)
	for {
		i := bytes.IndexByte(p.buf, '\n')
		if i < 0 {
			break
		}
		line := p.buf[:i]
		p.buf = p.buf[i+1:]

		if p.overflow {
			// 超长行的剩余部分
			p.overflow = false
			continue
		}
		if p.parseLine(line, &res) {
			break
		}
	}

	if len(p.buf) > maxFrameSize {
		p.buf = nil
		p.overflow = true
	}
	if p.done {
		p.buf = nil
	}
	// 缓冲区里剩下的字节被切片引用着，复制出来以免底层数组无限增长
	if len(p.buf) > 0 {
		p.buf = append([]byte(nil), p.buf...)
	}
	res.Done = p.done
	return res
}

// Flush 流结束（EOF）时解析缓冲区中最后一个没有换行结尾的帧
func (p *FrameParser) Flush() FrameResult {
	var res FrameResult
	if !p.done && !p.overflow && len(p.buf) > 0 {
		line := p.buf
		p.buf = nil
		p.parseLine(line, &res)
	}
	p.buf = nil
	res.Done = p.done
	return res
}

// parseLine 解析一行，遇到结束标记或上游错误时返回 true
func (p *FrameParser) parseLine(line []byte, res *FrameResult) bool {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 || line[0] == ':' {
		return false
	}
	if !bytes.HasPrefix(line, []byte(dataPrefix)) {
		// event: / id: / retry: 等字段不影响内容
		return false
	}

	payload := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))
	if len(payload) == 0 {
		return false
	}
	if string(bytes.TrimSpace(payload)) == doneMarker {
		p.done = true
		return true
	}

	var chunk completionChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return false
	}
	if chunk.Error != nil {
		msg := chunk.Error.Message
		if msg == "" {
			msg = "upstream error"
		}
		res.Err = errors.New(msg)
		return true
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
		return false
	}
	if delta := *chunk.Choices[0].Delta.Content; delta != "" {
		res.Deltas = append(res.Deltas, delta)
	}
	return false
}
