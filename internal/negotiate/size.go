package negotiate

import (
	"fmt"
	"strconv"
	"strings"
)

// Size はフレームの解像度を表す
type Size struct {
	Width  int `json:"width" yaml:"width"`   // 幅
	Height int `json:"height" yaml:"height"` // 高さ
}

// Landscape は幅 >= 高さとなる向きに正規化した解像度を返す
func (s Size) Landscape() Size {
	if s.Height > s.Width {
		return Size{Width: s.Height, Height: s.Width}
	}
	return s
}

// Portrait は幅 <= 高さとなる向きの解像度を返す
func (s Size) Portrait() Size {
	if s.Width > s.Height {
		return Size{Width: s.Height, Height: s.Width}
	}
	return s
}

// Valid は幅と高さが共に正の値かどうかを返す
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseSize は "640x480" 形式の文字列を解析する
func ParseSize(s string) (Size, error) {
	w, h, ok := strings.Cut(strings.TrimSpace(strings.ToLower(s)), "x")
	if !ok {
		return Size{}, fmt.Errorf("解像度の形式が不正です: %q", s)
	}

	width, err := strconv.Atoi(w)
	if err != nil {
		return Size{}, fmt.Errorf("幅の解析に失敗: %w", err)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Size{}, fmt.Errorf("高さの解析に失敗: %w", err)
	}

	size := Size{Width: width, Height: height}
	if !size.Valid() {
		return Size{}, fmt.Errorf("%w: %s", ErrInvalidSize, size)
	}
	return size, nil
}

// ParseSizeList はカンマ区切りの解像度一覧を列挙順のまま解析する
func ParseSizeList(s string) ([]Size, error) {
	var sizes []Size
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		size, err := ParseSize(part)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, size)
	}
	return sizes, nil
}
