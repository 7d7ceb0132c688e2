package proxy

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"time"
)

var errClientStalled = errors.New("client stopped reading")

// detachableWriter 转发到客户端管道。客户端断开、或单次写入阻塞超过 stall 时，
// 管道被关闭并进入 detached 状态，此后的数据被静默丢弃，让同一次读取继续流向缓存写入。
type detachableWriter struct {
	mu       sync.Mutex
	pw       *io.PipeWriter
	stall    time.Duration
	detached bool
	cause    error
}

func newDetachableWriter(pw *io.PipeWriter, stall time.Duration) *detachableWriter {
	return &detachableWriter{pw: pw, stall: stall}
}

func (d *detachableWriter) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.detached {
		return len(p), nil
	}

	var timer *time.Timer
	if d.stall > 0 {
		// 关闭管道会让阻塞中的 Write 立即返回
		timer = time.AfterFunc(d.stall, func() { d.pw.CloseWithError(errClientStalled) })
	}
	_, err := d.pw.Write(p)
	if timer != nil && !timer.Stop() {
		err = errClientStalled
	}
	if err != nil {
		d.detached = true
		d.cause = err
		d.pw.CloseWithError(err)
	}
	return len(p), nil
}

// Detached 返回客户端是否已被断开以及原因。
func (d *detachableWriter) Detached() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detached, d.cause
}

// captureBuffer 在正文不超过 fits 允许的大小时保留一份副本，用于写入边缘缓存。
type captureBuffer struct {
	buf      bytes.Buffer
	fits     func(int64) bool
	overflow bool
}

func newCaptureBuffer(fits func(int64) bool) *captureBuffer {
	return &captureBuffer{fits: fits}
}

func (b *captureBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	if !b.fits(int64(b.buf.Len() + len(p))) {
		b.overflow = true
		b.buf = bytes.Buffer{}
		return len(p), nil
	}
	return b.buf.Write(p)
}

// Bytes 返回完整副本；超限时返回 nil。
func (b *captureBuffer) Bytes() ([]byte, bool) {
	if b == nil || b.overflow {
		return nil, false
	}
	return b.buf.Bytes(), true
}
