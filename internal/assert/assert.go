// Package assert contains the test helpers shared by the packages of this
// module.
package assert

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/exp/constraints"
)

func OK(t testing.TB, err error) {
	if err != nil {
		t.Helper()
		t.Fatal("error:", err)
	}
}

func Error(t testing.TB, got, want error) {
	if !errors.Is(got, want) {
		t.Helper()
		t.Fatalf("error mismatch\nwant = %v\ngot  = %v", want, got)
	}
}

func True(t testing.TB, value bool) {
	if !value {
		t.Helper()
		t.Fatal("value is false")
	}
}

func False(t testing.TB, value bool) {
	if value {
		t.Helper()
		t.Fatal("value is true")
	}
}

func Equal[T comparable](t testing.TB, got, want T) {
	if got != want {
		t.Helper()
		t.Fatalf("value mismatch\nwant = %#v\ngot  = %#v", want, got)
	}
}

func NotEqual[T comparable](t testing.TB, got, want T) {
	if got == want {
		t.Helper()
		t.Fatalf("value must not be equal to %#v", want)
	}
}

func EqualAll[T comparable](t testing.TB, got, want []T) {
	if len(got) != len(want) {
		t.Helper()
		t.Fatalf("number of values mismatch\nwant = %#v\ngot  = %#v", want, got)
	}

	for i, value := range want {
		if value != got[i] {
			t.Helper()
			t.Fatalf("value at index %d/%d mismatch\nwant = %#v\ngot  = %#v", i, len(want), value, got[i])
		}
	}
}

func Less[T constraints.Ordered](t testing.TB, less, more T) {
	if less >= more {
		t.Helper()
		t.Fatalf("value is too large: %v >= %v", less, more)
	}
}

func HasPrefix(t testing.TB, s, prefix string) {
	if !strings.HasPrefix(s, prefix) {
		t.Helper()
		t.Fatalf("prefix mismatch\nwant = %q\ngot  = %q", prefix, s)
	}
}

func DeepEqual(t testing.TB, got, want any, opts ...cmp.Option) {
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Helper()
		t.Fatalf("value mismatch (-want +got):\n%s", diff)
	}
}

func FloatEqual[T constraints.Float](t testing.TB, got, want, epsilon T) {
	if math.Abs(float64(got-want)) > float64(epsilon) {
		t.Helper()
		t.Fatalf("value mismatch\nwant = %v (+/- %v)\ngot  = %v", want, epsilon, got)
	}
}
