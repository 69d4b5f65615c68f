package backlight

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"

	"wisepi/internal/model"
)

type fakePin struct {
	duties []gpio.Duty
	freq   physic.Frequency
	halts  int
	fail   error
}

func (p *fakePin) PWM(d gpio.Duty, f physic.Frequency) error {
	if p.fail != nil {
		return p.fail
	}
	p.duties = append(p.duties, d)
	p.freq = f
	return nil
}

func (p *fakePin) Halt() error {
	p.halts++
	return nil
}

func noPWM(string) (Pin, error) { return nil, errors.New("no gpio") }

func TestDayNight(t *testing.T) {
	const day, night = 0.85, 0.18
	for _, h := range []int{21, 23, 0, 6} {
		if got := DayNight(h, 21, 7, day, night); got != night {
			t.Errorf("hour %d: got %v want night", h, got)
		}
	}
	for _, h := range []int{7, 12, 20} {
		if got := DayNight(h, 21, 7, day, night); got != day {
			t.Errorf("hour %d: got %v want day", h, got)
		}
	}
	if got := DayNight(3, 1, 6, day, night); got != night {
		t.Errorf("non-wrapping window: got %v", got)
	}
	if got := DayNight(12, 1, 6, day, night); got != day {
		t.Errorf("non-wrapping window outside: got %v", got)
	}
	if got := DayNight(5, 5, 5, day, night); got != day {
		t.Errorf("equal bounds: got %v", got)
	}
}

func TestSysfsValue(t *testing.T) {
	tests := []struct {
		level float64
		max   int
		want  int
	}{
		{0, 255, 1},
		{-1, 255, 1},
		{0.001, 255, 1},
		{0.5, 255, 128},
		{1, 255, 255},
		{3, 255, 255},
		{0.18, 100, 18},
	}
	for _, tt := range tests {
		if got := SysfsValue(tt.level, tt.max); got != tt.want {
			t.Errorf("SysfsValue(%v, %d)=%d want %d", tt.level, tt.max, got, tt.want)
		}
	}
}

func makeSysfs(t *testing.T, max string) (root, dir string) {
	t.Helper()
	root = t.TempDir()
	dir = filepath.Join(root, "rpi_backlight")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "max_brightness"), []byte(max+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "brightness"), []byte("0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root, dir
}

func readBrightness(t *testing.T, dir string) string {
	t.Helper()
	b, err := os.ReadFile(filepath.Join(dir, "brightness"))
	if err != nil {
		t.Fatal(err)
	}
	return strings.TrimSpace(string(b))
}

func TestProbePrefersSysfs(t *testing.T) {
	root, dir := makeSysfs(t, "200")
	pin := &fakePin{}
	c := Probe(Options{SysfsRoot: root, OpenPWM: func(string) (Pin, error) { return pin, nil }})
	if c.Mode() != model.BacklightSysfs {
		t.Fatalf("mode=%s", c.Mode())
	}
	if len(pin.duties) != 0 {
		t.Fatal("pwm touched although sysfs was available")
	}

	if err := c.Set(0.85); err != nil {
		t.Fatal(err)
	}
	if got := readBrightness(t, dir); got != "170" {
		t.Fatalf("brightness=%s", got)
	}
	if err := c.Set(0); err != nil {
		t.Fatal(err)
	}
	if got := readBrightness(t, dir); got != "1" {
		t.Fatalf("brightness at zero=%s", got)
	}
}

func TestSysfsWriteFailureKeepsLevel(t *testing.T) {
	root, dir := makeSysfs(t, "200")
	c := Probe(Options{SysfsRoot: root, OpenPWM: noPWM})
	if err := c.Set(0.5); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "max_brightness"), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.Set(0.9); err == nil {
		t.Fatal("expected error")
	}
	if c.Level() != 0.5 {
		t.Fatalf("level=%v after failed write", c.Level())
	}
}

func TestProbeFallsBackToPWM(t *testing.T) {
	pin := &fakePin{}
	c := Probe(Options{SysfsRoot: t.TempDir(), OpenPWM: func(string) (Pin, error) { return pin, nil }})
	if c.Mode() != model.BacklightPwm {
		t.Fatalf("mode=%s", c.Mode())
	}
	if len(pin.duties) != 1 || pin.duties[0] != 0 || pin.freq != DefaultPWMFreq {
		t.Fatalf("pwm not started dark: %+v", pin)
	}

	if err := c.Set(0.5); err != nil {
		t.Fatal(err)
	}
	if got := pin.duties[len(pin.duties)-1]; got != gpio.DutyHalf {
		t.Fatalf("duty=%v want %v", got, gpio.DutyHalf)
	}
	if err := c.Set(2); err != nil {
		t.Fatal(err)
	}
	if got := pin.duties[len(pin.duties)-1]; got != gpio.DutyMax {
		t.Fatalf("duty=%v want max", got)
	}
	if c.Level() != 1 {
		t.Fatalf("level=%v", c.Level())
	}
}

func TestPWMFailureKeepsLevel(t *testing.T) {
	pin := &fakePin{}
	c := Probe(Options{SysfsRoot: t.TempDir(), OpenPWM: func(string) (Pin, error) { return pin, nil }})
	if err := c.Set(0.3); err != nil {
		t.Fatal(err)
	}
	pin.fail = errors.New("bus error")
	for i := 0; i < 3; i++ {
		if err := c.Set(0.9); err == nil {
			t.Fatal("expected error")
		}
	}
	if c.Level() != 0.3 {
		t.Fatalf("level=%v", c.Level())
	}
}

func TestProbeNone(t *testing.T) {
	c := Probe(Options{SysfsRoot: filepath.Join(t.TempDir(), "missing"), OpenPWM: noPWM})
	if c.Mode() != model.BacklightNone {
		t.Fatalf("mode=%s", c.Mode())
	}
	if err := c.Set(0.4); err != nil {
		t.Fatal(err)
	}
	if err := c.Cleanup(); err != nil {
		t.Fatal(err)
	}
}

func TestCleanupRunsOnce(t *testing.T) {
	pin := &fakePin{}
	c := Probe(Options{SysfsRoot: t.TempDir(), OpenPWM: func(string) (Pin, error) { return pin, nil }})
	for i := 0; i < 3; i++ {
		if err := c.Cleanup(); err != nil {
			t.Fatal(err)
		}
	}
	if pin.halts != 1 {
		t.Fatalf("halts=%d", pin.halts)
	}
}
