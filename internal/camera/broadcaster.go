package camera

import (
	"sync"
)

// subscriberBuffer は購読者毎のフレームバッファ数
const subscriberBuffer = 4

// Broadcaster は受け取ったフレームを全ての購読者へ配るFrameSink
//
// 購読者の受信が追いつかない場合は古いフレームを破棄し、キャプチャ側を止めない。
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan Frame]struct{}
	latest *Frame
	closed bool
}

// NewBroadcaster は新しいBroadcasterを作成する
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Frame]struct{})}
}

// PutFrame はフレームを全購読者へ送る
func (b *Broadcaster) PutFrame(frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.latest = &frame

	for ch := range b.subs {
		select {
		case ch <- frame:
		default:
			// チャンネルがフルの場合は古いフレームを破棄
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- frame:
			default:
			}
		}
	}
}

// Subscribe はフレームを受信するチャンネルと購読解除関数を返す
func (b *Broadcaster) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Latest は最後に受け取ったフレームを返す
func (b *Broadcaster) Latest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.latest == nil {
		return Frame{}, false
	}
	return *b.latest, true
}

// Subscribers は現在の購読者数を返す
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Disconnect は現在の購読者のチャンネルを全て閉じる
// Closeと違い、以降の購読と配信は続けられる
func (b *Broadcaster) Disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		close(ch)
		delete(b.subs, ch)
	}
}

// Close は全購読者のチャンネルを閉じる。以降のフレームは破棄される
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
