package batchrecv

import (
	"context"
	"io"
	"time"
)

// Config models optional configuration for Receive.
type Config struct {
	// MaxSize is the absolute maximum number of values to receive. Setting
	// this to a value < 0 disables the maximum size constraint.
	//
	// Defaults to 16, if 0.
	MaxSize int

	// MinSize is the (target) minimum number of values to receive. If
	// PartialTimeout is configured, the effective minimum size is 1, once the
	// PartialTimeout is reached.
	//
	// Setting this to a value < 0 causes PartialTimeout to start from the
	// call to Receive, and allows returning without receiving any values. In
	// this scenario, PartialTimeout applies to the first value.
	//
	// Defaults to 4, if 0.
	MinSize int

	// PartialTimeout is the maximum time to wait for a partial response,
	// defined as a number of received values less than MinSize. After this
	// timeout, the effective minimum size is reduced; see MinSize.
	//
	// Defaults to 50ms, if 0.
	PartialTimeout time.Duration
}

// Receive performs a blocking receive on ch, returning as many values as
// possible given the constraints in cfg (which may be nil, for the documented
// defaults). If ctx cancels, its error is returned. Values are passed to
// handler as they're received; an error from handler stops the receive and is
// returned.
//
// If ch is closed and all buffered values are drained, Receive returns
// io.EOF; in this scenario the minimum size may not have been reached.
//
// Providing a nil ctx, ch, or handler causes a panic.
func Receive[T any](ctx context.Context, cfg *Config, ch <-chan T, handler func(value T) error) error {
	if ctx == nil {
		panic(`batchrecv: nil context`)
	}
	if ch == nil {
		panic(`batchrecv: nil channel`)
	}
	if handler == nil {
		panic(`batchrecv: nil handler`)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	maxSize := 16
	minSize := 4
	partialTimeout := 50 * time.Millisecond
	if cfg != nil {
		if cfg.MaxSize != 0 {
			maxSize = cfg.MaxSize
		}
		if cfg.MinSize != 0 {
			minSize = cfg.MinSize
		}
		if cfg.PartialTimeout != 0 {
			partialTimeout = cfg.PartialTimeout
		}
	}

	var partialTimeoutCh <-chan time.Time
	if partialTimeout > 0 && minSize < 0 {
		timer := time.NewTimer(partialTimeout)
		defer timer.Stop()
		partialTimeoutCh = timer.C
	}

	var size int

MinSizeLoop:
	for (maxSize < 0 || size < maxSize) && (size < minSize || (size == 0 && partialTimeoutCh != nil)) {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-partialTimeoutCh:
			if err := ctx.Err(); err != nil {
				return err
			}
			break MinSizeLoop

		case value, ok := <-ch:
			if !ok {
				return io.EOF
			}

			size++

			if size == 1 && partialTimeout > 0 && partialTimeoutCh == nil {
				timer := time.NewTimer(partialTimeout)
				//goland:noinspection GoDeferInLoop
				defer timer.Stop()
				partialTimeoutCh = timer.C
			}

			if err := handler(value); err != nil {
				return err
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

MaxSizeLoop:
	for maxSize < 0 || size < maxSize {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case value, ok := <-ch:
			if !ok {
				return io.EOF
			}

			size++

			if err := handler(value); err != nil {
				return err
			}

		default:
			if err := ctx.Err(); err != nil {
				return err
			}
			break MaxSizeLoop
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}

	return nil
}
