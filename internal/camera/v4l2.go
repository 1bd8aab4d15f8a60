package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"camnego/internal/negotiate"

	"github.com/rs/zerolog"
)

// preferredFormat はffmpegでそのまま切り出せるMJPEGを優先する
const preferredFormat = "MJPG"

// commandRunner は外部コマンドを実行して標準出力を返す
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// streamCommand は配信用の常駐プロセスを作る。ctxのキャンセルでプロセスを止めること
type streamCommand func(ctx context.Context, args ...string) *exec.Cmd

func ffmpegCommand(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, "ffmpeg", args...)
}

// errStreamEnded はffmpegが停止要求なしに終了したことを表す
var errStreamEnded = errors.New("ffmpegが終了しました")

// V4L2Device はv4l2-ctlとffmpegを使ってV4L2デバイスを操作する
type V4L2Device struct {
	path   string
	log    zerolog.Logger
	run    commandRunner
	stream streamCommand

	mu      sync.Mutex
	open    bool
	formats *formatList
	format  string
	params  Parameters
	cancel  context.CancelFunc
	done    chan struct{}
}

var (
	_ Device          = (*V4L2Device)(nil)
	_ SizedFrameRater = (*V4L2Device)(nil)
)

// NewV4L2Device は新しいV4L2Deviceを作成する
func NewV4L2Device(path string, log zerolog.Logger) *V4L2Device {
	return &V4L2Device{
		path: path,
		log:    log.With().Str("device", path).Logger(),
		run:    runCommand,
		stream: ffmpegCommand,
	}
}

// Open はデバイスの存在を確認し、対応フォーマット一覧を取得する
func (d *V4L2Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.open {
		return ErrDeviceBusy
	}

	if _, err := d.run(ctx, "v4l2-ctl", "--device", d.path, "--info"); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnavailable, d.path, err)
	}

	out, err := d.run(ctx, "v4l2-ctl", "--device", d.path, "--list-formats-ext")
	if err != nil {
		return fmt.Errorf("フォーマット一覧の取得に失敗: %w", err)
	}

	formats := parseFormatList(string(out))
	d.formats = formats
	d.format = formats.preferred()
	d.params = Parameters{}
	d.open = true

	d.log.Debug().
		Str("format", d.format).
		Int("resolutions", len(formats.sizes(d.format))).
		Msg("デバイスを開きました")

	return nil
}

// SupportedResolutions は選択したピクセルフォーマットの解像度を列挙順で返す
func (d *V4L2Device) SupportedResolutions(_ context.Context) ([]negotiate.Size, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, ErrNotOpen
	}
	return d.formats.sizes(d.format), nil
}

// SupportedFrameRates は全解像度のフレームレートを出現順に重複なしで返す
func (d *V4L2Device) SupportedFrameRates(_ context.Context) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, ErrNotOpen
	}
	return d.formats.rates(d.format), nil
}

// FrameRatesForSize は指定解像度で使えるフレームレートを返す
func (d *V4L2Device) FrameRatesForSize(_ context.Context, size negotiate.Size) ([]int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return nil, ErrNotOpen
	}
	return d.formats.ratesFor(d.format, size), nil
}

// SetParameters は次回の配信開始時に使うパラメータを保存する
// ffmpegの起動引数として渡すため、ここではデバイスに書き込まない
func (d *V4L2Device) SetParameters(_ context.Context, params Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return ErrNotOpen
	}
	if !params.Size.Valid() {
		return fmt.Errorf("%w: %s", negotiate.ErrInvalidSize, params.Size)
	}
	d.params = params
	return nil
}

// StartStreaming はffmpegを起動してMJPEGフレームをsinkへ送る
func (d *V4L2Device) StartStreaming(ctx context.Context, sink FrameSink) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.open {
		return ErrNotOpen
	}
	if d.cancel != nil {
		return ErrAlreadyStreaming
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := d.stream(ctx, ffmpegArgs(d.path, d.format, d.params)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderrパイプの作成に失敗: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("ffmpegの起動に失敗: %w", err)
	}

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		d.logStderr(stderr)
	}()

	done := make(chan struct{})
	size := d.params.Size
	go func() {
		defer close(done)

		readErr := readJPEGFrames(stdout, func(data []byte) {
			sink.PutFrame(Frame{Data: data, Size: size, Timestamp: time.Now()})
		})
		stopped := ctx.Err() != nil
		if readErr != nil {
			// 読めなくなったffmpegは止める
			cancel()
		}

		// Waitはパイプの読み取りが全て終わってから呼ぶ
		<-stderrDone
		waitErr := cmd.Wait()

		if stopped {
			return
		}

		err := errors.Join(errStreamEnded, readErr, waitErr)
		d.log.Warn().Err(err).Msg("配信が停止要求なしに終了しました")
		endStream(sink, err)
	}()

	d.cancel = cancel
	d.done = done
	return nil
}

// Stop はffmpegを停止してデバイスを解放する
func (d *V4L2Device) Stop(_ context.Context) error {
	d.mu.Lock()
	if !d.open {
		d.mu.Unlock()
		return ErrNotOpen
	}
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.open = false
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

// logStderr はffmpegの標準エラー出力をデバッグログへ流す
func (d *V4L2Device) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		d.log.Trace().Str("ffmpeg", scanner.Text()).Send()
	}
}

// ffmpegArgs はV4L2デバイスからMJPEGを標準出力へ流すffmpeg引数を組み立てる
func ffmpegArgs(path, format string, params Parameters) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}

	switch format {
	case "MJPG":
		args = append(args, "-input_format", "mjpeg")
	case "YUYV":
		args = append(args, "-input_format", "yuyv422")
	}

	args = append(args, "-video_size", params.Size.String())
	if params.FPS > 0 {
		args = append(args, "-framerate", strconv.Itoa(params.FPS))
	}

	args = append(args,
		"-i", path,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)
	return args
}

var (
	jpegStart = []byte{0xFF, 0xD8}
	jpegEnd   = []byte{0xFF, 0xD9}
)

// readJPEGFrames はrから連結されたJPEGを1枚ずつ切り出してemitに渡す
func readJPEGFrames(r io.Reader, emit func([]byte)) error {
	buffer := make([]byte, 64*1024)
	var pending bytes.Buffer

	for {
		n, err := r.Read(buffer)
		if n > 0 {
			pending.Write(buffer[:n])
			rest := splitJPEG(pending.Bytes(), emit)
			remaining := append([]byte(nil), rest...)
			pending.Reset()
			pending.Write(remaining)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// splitJPEG はdata中の完全なJPEGを全てemitし、未完成の残りを返す
func splitJPEG(data []byte, emit func([]byte)) []byte {
	for {
		start := bytes.Index(data, jpegStart)
		if start == -1 {
			// 次の読み込みで開始マーカーが完成する可能性があるので末尾1バイトは残す
			if len(data) > 0 && data[len(data)-1] == 0xFF {
				return data[len(data)-1:]
			}
			return nil
		}

		end := bytes.Index(data[start+2:], jpegEnd)
		if end == -1 {
			return data[start:]
		}

		end += start + 2 + len(jpegEnd)
		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		emit(frame)

		data = data[end:]
	}
}

// formatList はv4l2-ctl --list-formats-extの解析結果
type formatList struct {
	order   []string
	entries map[string][]sizeEntry
}

type sizeEntry struct {
	size  negotiate.Size
	rates []int
}

var (
	formatLine   = regexp.MustCompile(`^\[\d+\]:\s+'([^']+)'`)
	sizeLine     = regexp.MustCompile(`^Size:\s+Discrete\s+(\d+)x(\d+)`)
	intervalLine = regexp.MustCompile(`^Interval:\s+Discrete\s+[\d.]+s\s+\(([\d.]+)\s+fps\)`)
)

// parseFormatList はv4l2-ctlの出力からフォーマット毎の離散解像度とフレームレートを取り出す
// Stepwise/Continuousの解像度は扱わない
func parseFormatList(output string) *formatList {
	list := &formatList{entries: make(map[string][]sizeEntry)}

	var current string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)

		if m := formatLine.FindStringSubmatch(line); m != nil {
			current = m[1]
			if _, ok := list.entries[current]; !ok {
				list.order = append(list.order, current)
				list.entries[current] = nil
			}
			continue
		}

		if current == "" {
			continue
		}

		if m := sizeLine.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			list.entries[current] = append(list.entries[current], sizeEntry{
				size: negotiate.Size{Width: w, Height: h},
			})
			continue
		}

		if m := intervalLine.FindStringSubmatch(line); m != nil {
			entries := list.entries[current]
			if len(entries) == 0 {
				continue
			}
			fps, err := strconv.ParseFloat(m[1], 64)
			if err != nil || fps <= 0 {
				continue
			}
			last := &entries[len(entries)-1]
			last.rates = appendUnique(last.rates, int(math.Round(fps)))
		}
	}

	return list
}

// preferred は使用するピクセルフォーマットを返す
func (l *formatList) preferred() string {
	if _, ok := l.entries[preferredFormat]; ok {
		return preferredFormat
	}
	if len(l.order) > 0 {
		return l.order[0]
	}
	return ""
}

func (l *formatList) sizes(format string) []negotiate.Size {
	var sizes []negotiate.Size
	for _, e := range l.entries[format] {
		sizes = append(sizes, e.size)
	}
	return sizes
}

func (l *formatList) rates(format string) []int {
	var rates []int
	for _, e := range l.entries[format] {
		for _, r := range e.rates {
			rates = appendUnique(rates, r)
		}
	}
	return rates
}

func (l *formatList) ratesFor(format string, size negotiate.Size) []int {
	for _, e := range l.entries[format] {
		if e.size == size {
			return append([]int(nil), e.rates...)
		}
	}
	return nil
}

func (l *formatList) formatNames() []string {
	return append([]string(nil), l.order...)
}

func appendUnique(list []int, v int) []int {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
