// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package screencap

import (
	"errors"
	"fmt"

	"github.com/gogpu/screencap/compositor"
	"github.com/gogpu/screencap/internal/source"
)

// binding attaches a session to one output: the driver subscription and the
// mailbox it delivers into. A binding is replaced as a whole on rebind.
type binding struct {
	sub  compositor.Subscription
	src  *source.Source
	info compositor.OutputInfo
}

// bind resolves sel against comp's outputs and subscribes to the match.
func bind(gpu compositor.GPU, comp compositor.Compositor, sel compositor.Selector) (*binding, error) {
	outputs, err := comp.Outputs()
	if err != nil {
		return nil, fmt.Errorf("%w: list outputs of %s: %w", ErrOutputUnavailable, comp.Name(), err)
	}
	info, err := sel.Resolve(outputs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
	}

	src := source.New()
	sub, err := comp.Subscribe(gpu, info.ID, src)
	if err != nil {
		src.Close()
		if errors.Is(err, compositor.ErrOutputNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrOutputUnavailable, err)
		}
		return nil, fmt.Errorf("%w: subscribe %s/%s: %w", ErrDriverError, comp.Name(), info.ID, err)
	}
	return &binding{sub: sub, src: src, info: info}, nil
}

// output returns the output description with its size re-queried from the
// driver.
func (b *binding) output() compositor.OutputInfo {
	info := b.sub.Info()
	info.Width, info.Height = b.sub.Size()
	return info
}

// close stops the subscription and releases any pending frame. Idempotent.
func (b *binding) close() error {
	b.src.Close()
	return b.sub.Close()
}
