package compressor

import (
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
)

// writeNoisePNG writes a w x h PNG of random pixels. With alpha set the image
// is NRGBA with translucent pixels.
func writeNoisePNG(t *testing.T, dir, name string, w, h int, alpha bool) string {
	t.Helper()
	rng := rand.New(rand.NewSource(int64(w*31 + h)))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 0xff
		if alpha {
			img.Pix[i+3] = uint8(rng.Intn(256))
		}
	}
	return writePNG(t, dir, name, img)
}

func writePalettedPNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	palette := color.Palette{
		color.NRGBA{0, 0, 0, 0},
		color.NRGBA{255, 0, 0, 255},
		color.NRGBA{0, 255, 0, 255},
		color.NRGBA{0, 0, 255, 128},
	}
	img := image.NewPaletted(image.Rect(0, 0, w, h), palette)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetColorIndex(x, y, uint8((x/10+y/10)%len(palette)))
		}
	}
	return writePNG(t, dir, name, img)
}

func writePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
	return path
}

func decodeConfig(t *testing.T, path string) (image.Config, string) {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return cfg, format
}

func TestImagingEncoder_DownscalesToJPEG(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name       string
		src        string
		setting    Setting
		wantWidth  int
		wantHeight int
	}{
		{
			name:       "wide rgba is resized",
			src:        writeNoisePNG(t, dir, "wide.png", 1600, 900, true),
			setting:    Setting{Quality: 75, MaxWidth: 1000},
			wantWidth:  1000,
			wantHeight: 563, // 900 * 1000 / 1600 = 562.5
		},
		{
			name:       "narrow opaque keeps size",
			src:        writeNoisePNG(t, dir, "narrow.png", 600, 400, false),
			setting:    Setting{Quality: 75, MaxWidth: 1000},
			wantWidth:  600,
			wantHeight: 400,
		},
		{
			name:       "paletted is converted",
			src:        writePalettedPNG(t, dir, "palette.png", 1200, 300),
			setting:    Setting{Quality: 50, MaxWidth: 800},
			wantWidth:  800,
			wantHeight: 200,
		},
	}

	enc := NewImagingEncoder()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := filepath.Join(dir, "out", tt.name+".jpg")
			got, err := enc.Encode(tt.src, out, tt.setting)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if got.Width != tt.wantWidth || got.Height != tt.wantHeight {
				t.Errorf("Encode() = %dx%d, want %dx%d", got.Width, got.Height, tt.wantWidth, tt.wantHeight)
			}

			cfg, format := decodeConfig(t, out)
			if format != "jpeg" {
				t.Errorf("output format = %s, want jpeg", format)
			}
			if cfg.Width > tt.setting.MaxWidth {
				t.Errorf("output width %d exceeds max width %d", cfg.Width, tt.setting.MaxWidth)
			}
			if cfg.Width != tt.wantWidth || cfg.Height != tt.wantHeight {
				t.Errorf("output = %dx%d, want %dx%d", cfg.Width, cfg.Height, tt.wantWidth, tt.wantHeight)
			}
			if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
				t.Errorf("temporary file left behind: %v", err)
			}
		})
	}
}

// Sizes must not grow along the ladder. The budget loop assumes this but never
// checks it, so a failure here points at the encoder rather than the loop.
func TestImagingEncoder_Monotonic(t *testing.T) {
	dir := t.TempDir()
	src := writeNoisePNG(t, dir, "noise.png", 1200, 800, true)
	ladder := []Setting{
		{Quality: 75, MaxWidth: 1000},
		{Quality: 50, MaxWidth: 800},
		{Quality: 40, MaxWidth: 700},
		{Quality: 30, MaxWidth: 600},
		{Quality: 20, MaxWidth: 500},
		{Quality: 20, MaxWidth: 400},
	}

	enc := NewImagingEncoder()
	out := filepath.Join(dir, "noise.jpg")
	var prev int64 = -1
	for _, s := range ladder {
		if _, err := enc.Encode(src, out, s); err != nil {
			t.Fatalf("Encode(%s) error = %v", s, err)
		}
		info, err := os.Stat(out)
		if err != nil {
			t.Fatal(err)
		}
		if prev >= 0 && info.Size() > prev {
			t.Errorf("possible monotonicity violation: %s produced %d bytes, previous setting %d", s, info.Size(), prev)
		}
		prev = info.Size()
	}
}

func TestImagingEncoder_CorruptInput(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "broken.png")
	if err := os.WriteFile(src, []byte("not a png at all"), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "broken.jpg")

	if _, err := NewImagingEncoder().Encode(src, out, Setting{Quality: 75, MaxWidth: 1000}); err == nil {
		t.Fatal("Encode() of a corrupt file succeeded")
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output written for corrupt input: %v", err)
	}
}

func TestScaledSize(t *testing.T) {
	tests := []struct {
		w, h, max int
		wantH     int
	}{
		{1600, 900, 1000, 563},
		{2000, 1000, 1000, 500},
		{1500, 901, 1000, 601},
		{3000, 1, 1000, 1},
		{1001, 999, 1000, 998},
	}
	for _, tt := range tests {
		gotW, gotH := scaledSize(tt.w, tt.h, tt.max)
		if gotW != tt.max || gotH != tt.wantH {
			t.Errorf("scaledSize(%d, %d, %d) = %d, %d, want %d, %d", tt.w, tt.h, tt.max, gotW, gotH, tt.max, tt.wantH)
		}
	}
}

func TestNeedsFlatten(t *testing.T) {
	rect := image.Rect(0, 0, 2, 2)
	tests := []struct {
		name string
		img  image.Image
		want bool
	}{
		{"nrgba", image.NewNRGBA(rect), true},
		{"rgba", image.NewRGBA(rect), true},
		{"paletted", image.NewPaletted(rect, color.Palette{color.Black, color.White}), true},
		{"gray", image.NewGray(rect), false},
		{"ycbcr", image.NewYCbCr(rect, image.YCbCrSubsampleRatio420), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsFlatten(tt.img); got != tt.want {
				t.Errorf("needsFlatten() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFlattenKeepsColourDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 10})

	got := flatten(src).NRGBAAt(0, 0)
	want := color.NRGBA{R: 200, G: 100, B: 50, A: 255}
	if got != want {
		t.Errorf("flatten() pixel = %v, want %v", got, want)
	}
}
