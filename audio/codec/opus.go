// Package codec 封装监听流使用的OPUS编解码
package codec

import (
	"errors"
	"fmt"

	"github.com/hraban/opus"
)

// OPUS最大包大小
const maxOpusPacket = 4000

// OpusDecoder 监听端使用的OPUS解码器
type OpusDecoder struct {
	decoder  *opus.Decoder
	channels int
	pcm      []int16
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &OpusDecoder{
		decoder:  dec,
		channels: channels,
		pcm:      make([]int16, 5760*channels), // OPUS最大帧大小
	}, nil
}

// Decode 解码一个OPUS包，返回的切片在下次调用前有效
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	if d.decoder == nil {
		return nil, errors.New("decoder not initialized")
	}

	n, err := d.decoder.Decode(packet, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("opus decode failed: %w", err)
	}
	return d.pcm[:n*d.channels], nil
}

// OpusEncoder 按固定帧长编码PCM
type OpusEncoder struct {
	encoder   *opus.Encoder
	frameSize int // 每帧样本数（含通道）
}

// NewOpusEncoder frameDuration 单位为毫秒
func NewOpusEncoder(sampleRate, channels, frameDuration, bitrate int) (*OpusEncoder, error) {
	switch frameDuration {
	case 5, 10, 20, 40, 60:
	default:
		return nil, fmt.Errorf("unsupported opus frame duration: %dms", frameDuration)
	}

	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(bitrate); err != nil {
		return nil, fmt.Errorf("failed to set bitrate: %w", err)
	}

	return &OpusEncoder{
		encoder:   enc,
		frameSize: sampleRate * frameDuration / 1000 * channels,
	}, nil
}

// FrameSize 返回一次 Encode 需要的样本数（含通道）
func (e *OpusEncoder) FrameSize() int {
	return e.frameSize
}

func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) != e.frameSize {
		return nil, fmt.Errorf("opus encode: got %d samples, want %d", len(pcm), e.frameSize)
	}

	data := make([]byte, maxOpusPacket)
	n, err := e.encoder.Encode(pcm, data)
	if err != nil {
		return nil, fmt.Errorf("opus encode failed: %w", err)
	}
	return data[:n], nil
}

// Peak 返回一段PCM的峰值电平，范围 0..1
func Peak(pcm []int16) float64 {
	var peak int32
	for _, v := range pcm {
		s := int32(v)
		if s < 0 {
			s = -s
		}
		if s > peak {
			peak = s
		}
	}
	return float64(peak) / 32768.0
}
