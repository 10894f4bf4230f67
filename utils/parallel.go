package utils

import (
	"context"
	"image"
	"runtime"
	"sync"

	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelForEachPixel loops through the image and calls f for each [x, y] position. The rows are
// divided into ParallelFactor bands and each band runs in its own goroutine. f must only write
// state owned by its own pixel. Cancellation is checked between rows; the context error is returned
// once every band has stopped.
func ParallelForEachPixel(ctx context.Context, size image.Point, f func(x, y int)) error {
	if size.X <= 0 || size.Y <= 0 {
		return ctx.Err()
	}
	bands := ParallelFactor
	if bands > size.Y {
		bands = size.Y
	}
	rowsPerBand := size.Y / bands

	var waitGroup sync.WaitGroup
	waitGroup.Add(bands)
	for i := 0; i < bands; i++ {
		startY := i * rowsPerBand
		endY := startY + rowsPerBand
		if i == bands-1 {
			endY = size.Y
		}
		utils.PanicCapturingGo(func() {
			defer waitGroup.Done()
			for y := startY; y < endY; y++ {
				if ctx.Err() != nil {
					return
				}
				for x := 0; x < size.X; x++ {
					f(x, y)
				}
			}
		})
	}
	waitGroup.Wait()
	return ctx.Err()
}
