package utils

import (
	"fmt"
	"time"
)

func Measure(f func() error) (time.Duration, error) {
	t0 := time.Now()
	err := f()
	d := time.Since(t0)
	return d, err
}

func ShowSize(n uint64) string {
	const Ki = 1 << 10
	const Mi = 1 << 20
	const Gi = 1 << 30
	switch {
	case n >= Gi:
		return fmt.Sprintf("%.2f GiB", float64(n)/float64(Gi))
	case n >= Mi:
		return fmt.Sprintf("%.2f MiB", float64(n)/float64(Mi))
	case n >= Ki:
		return fmt.Sprintf("%.2f KiB", float64(n)/float64(Ki))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func pluralize(n int, singular, plural string) string {
	if n > 1 {
		return plural
	}
	return singular
}

func Pluralize(n int, singular, plural string) string {
	return fmt.Sprintf("%d %s", n, pluralize(n, singular, plural))
}
