// SPDX-License-Identifier: MIT
package transport

import (
	"errors"

	"micscope/internal/pipeline"
)

// Transport is a rendering collaborator that holds resources. Render is
// called once per tick from the Update Driver goroutine and must not block
// it; Close releases whatever the transport owns.
type Transport interface {
	pipeline.Renderer
	Close() error
}

// Multi fans each Update out to several transports in order.
type Multi []Transport

// Render passes u to every transport, including those after a failure, and
// returns their joined errors.
func (m Multi) Render(u *pipeline.Update) error {
	var errs []error
	for _, t := range m {
		if err := t.Render(u); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every transport and returns their joined errors.
func (m Multi) Close() error {
	var errs []error
	for _, t := range m {
		if err := t.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ Transport = Multi(nil)
