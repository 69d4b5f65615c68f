package probe

import (
	"errors"
	"testing"
)

func TestFirstBindsFirstSuccess(t *testing.T) {
	var released []string
	var failed []string
	strategies := []Strategy[int]{
		{
			Name:    "a",
			Acquire: func() (int, error) { return 0, errors.New("no a") },
			Release: func() { released = append(released, "a") },
		},
		{
			Name:    "b",
			Acquire: func() (int, error) { return 2, nil },
			Release: func() { released = append(released, "b") },
		},
		{
			Name:    "c",
			Acquire: func() (int, error) { t.Fatal("c must not be tried"); return 0, nil },
		},
	}

	res, err := First(strategies, func(name string, _ error) { failed = append(failed, name) })
	if err != nil {
		t.Fatalf("First: %v", err)
	}
	if res.Name != "b" || res.Value != 2 {
		t.Fatalf("bound %q=%d", res.Name, res.Value)
	}
	if len(released) != 1 || released[0] != "a" {
		t.Fatalf("released=%v", released)
	}
	if len(failed) != 1 || failed[0] != "a" || len(res.Attempts) != 1 {
		t.Fatalf("failed=%v attempts=%v", failed, res.Attempts)
	}
}

func TestFirstAllFail(t *testing.T) {
	boom := errors.New("boom")
	_, err := First([]Strategy[string]{
		{Name: "x", Acquire: func() (string, error) { return "", boom }},
	}, nil)
	if !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("want ErrNoCandidate, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("underlying error lost: %v", err)
	}

	if _, err := First[string](nil, nil); !errors.Is(err, ErrNoCandidate) {
		t.Fatalf("empty list: %v", err)
	}
}
