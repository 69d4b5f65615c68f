// Package fonts resolves font families from the system font directories,
// binds the first loadable family per text role for the process lifetime and
// hands out sized faces and text metrics.
package fonts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	appLog "wisepi/internal/log"
	"wisepi/internal/model"
	"wisepi/internal/probe"
	"wisepi/internal/textfit"
)

// DefaultFamily is the name reported when no candidate family resolved and
// the built-in Go font is used.
const DefaultFamily = "default"

// DefaultDirs are searched when the loader is built without explicit dirs.
var DefaultDirs = []string{
	"/usr/share/fonts",
	"/usr/local/share/fonts",
}

type binding struct {
	family string
	font   *opentype.Font
}

type faceKey struct {
	role model.Role
	size float64
}

// Loader owns parsed fonts and faces. It is safe for concurrent use; the
// dashboard preview and the scheduler may both measure.
type Loader struct {
	dirs []string

	mu     sync.Mutex
	bound  map[model.Role]*binding
	faces  map[faceKey]font.Face
	byFile map[string]string // lower-case base name -> path
}

var _ textfit.Sizer = (*Loader)(nil)

// NewLoader creates a Loader that searches dirs for font files.
func NewLoader(dirs []string) *Loader {
	if len(dirs) == 0 {
		dirs = DefaultDirs
	}
	return &Loader{
		dirs:  dirs,
		bound: map[model.Role]*binding{},
		faces: map[faceKey]font.Face{},
	}
}

// Bind resolves families for role, first loadable wins, falling back to
// the built-in font. Subsequent calls for the same role return the already
// bound family.
func (l *Loader) Bind(role model.Role, families []string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bindLocked(role, families).family
}

func (l *Loader) bindLocked(role model.Role, families []string) *binding {
	if b, ok := l.bound[role]; ok {
		return b
	}

	strategies := make([]probe.Strategy[*opentype.Font], 0, len(families))
	for _, name := range families {
		name := name
		strategies = append(strategies, probe.Strategy[*opentype.Font]{
			Name:    name,
			Acquire: func() (*opentype.Font, error) { return l.loadFamily(name) },
		})
	}

	res, err := probe.First(strategies, func(name string, err error) {
		appLog.Debug("font family unavailable", "role", role, "family", name, "err", err)
	})
	var b *binding
	if err == nil {
		b = &binding{family: res.Name, font: res.Value}
		appLog.Event(appLog.TagBoot, "using system font", "role", role, "family", res.Name)
	} else {
		f, perr := opentype.Parse(goregular.TTF)
		if perr != nil {
			// The embedded font is compiled in; failing to parse it is a build defect.
			panic(fmt.Sprintf("fonts: built-in font: %v", perr))
		}
		b = &binding{family: DefaultFamily, font: f}
		appLog.Event(appLog.TagBoot, "using default font", "role", role)
	}
	l.bound[role] = b
	return b
}

// Face returns the face for role at size, binding the role with families if
// it is not bound yet.
func (l *Loader) Face(role model.Role, spec model.FontSpec) (font.Face, error) {
	if spec.Size <= 0 {
		return nil, fmt.Errorf("fonts: invalid size %v", spec.Size)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := faceKey{role: role, size: spec.Size}
	if f, ok := l.faces[key]; ok {
		return f, nil
	}
	b := l.bindLocked(role, spec.Families)
	face, err := opentype.NewFace(b.font, &opentype.FaceOptions{
		Size:    spec.Size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("fonts: new face %s@%v: %w", b.family, spec.Size, err)
	}
	l.faces[key] = face
	return face, nil
}

// Metrics implements textfit.Sizer.
func (l *Loader) Metrics(role model.Role, spec model.FontSpec) (textfit.Metrics, error) {
	face, err := l.Face(role, spec)
	if err != nil {
		return nil, err
	}
	return FaceMetrics{Face: face}, nil
}

// loadFamily finds <family>.ttf/.otf (or <family>-Regular) in the search
// dirs and parses it.
func (l *Loader) loadFamily(family string) (*opentype.Font, error) {
	if l.byFile == nil {
		l.byFile = l.index()
	}
	key := strings.ToLower(family)
	path, ok := l.byFile[key]
	if !ok {
		path, ok = l.byFile[key+"-regular"]
	}
	if !ok {
		return nil, errors.New("not installed")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f, nil
}

func (l *Loader) index() map[string]string {
	out := map[string]string{}
	for _, dir := range l.dirs {
		_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Missing dirs are normal on minimal images.
				return nil
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".ttf" && ext != ".otf" {
				return nil
			}
			base := strings.ToLower(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
			if _, seen := out[base]; !seen {
				out[base] = path
			}
			return nil
		})
	}
	return out
}

// FaceMetrics adapts a font.Face to textfit.Metrics.
type FaceMetrics struct {
	Face font.Face
}

// Measure returns the advance width and the line height (ascent+descent).
func (m FaceMetrics) Measure(text string) (int, int) {
	w := font.MeasureString(m.Face, text).Ceil()
	fm := m.Face.Metrics()
	return w, (fm.Ascent + fm.Descent).Ceil()
}

// Ascent is the distance from the top of the line box to the baseline.
func (m FaceMetrics) Ascent() int {
	return m.Face.Metrics().Ascent.Ceil()
}
