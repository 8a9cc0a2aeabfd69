//go:build !tinygo

package hal

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HeadlessConfig controls the no-window host runner.
type HeadlessConfig struct {
	Hz    int
	Ticks uint64
	// TicksPerFrame is the number of 1ms time ticks released per frame.
	// Zero releases ticks by wall-clock time.
	TicksPerFrame uint64
}

// RunHeadless runs the OS without opening a window. step is called once per
// frame; returning ErrStop ends the run cleanly.
func RunHeadless(ctx context.Context, newApp func(HAL) func() error, cfg HeadlessConfig) error {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}

	h := New().(*hostHAL)
	step := newApp(h)

	d := time.Second / time.Duration(cfg.Hz)
	if d <= 0 {
		return fmt.Errorf("invalid headless hz: %d", cfg.Hz)
	}
	t := time.NewTicker(d)
	defer t.Stop()

	var frame uint64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if cfg.TicksPerFrame > 0 {
				h.t.stepN(cfg.TicksPerFrame)
			} else {
				h.t.step()
			}
			if step != nil {
				if err := step(); err != nil {
					if errors.Is(err, ErrStop) {
						return nil
					}
					return err
				}
			}
			frame++
			if cfg.Ticks > 0 && frame >= cfg.Ticks {
				return nil
			}
		}
	}
}
