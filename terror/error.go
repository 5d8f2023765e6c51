// SPDX-License-Identifier: ice License 1.0

package terror

import (
	"github.com/pkg/errors"
)

func New(err error, data map[string]any) *Err {
	return &Err{error: err, Data: data}
}

func As(err error) *Err {
	tErr := new(Err)
	if ok := errors.As(err, tErr); ok {
		return tErr
	}

	return nil
}

// Field returns the data value stored under key, if any.
func (e *Err) Field(key string) (any, bool) {
	if e == nil || e.Data == nil {
		return nil, false
	}
	val, found := e.Data[key]

	return val, found
}

// With returns a copy of e that carries key=val in addition to the existing data.
func (e *Err) With(key string, val any) *Err {
	data := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		data[k] = v
	}
	data[key] = val

	return &Err{error: e.error, Data: data}
}

func (e *Err) Is(target error) bool {
	return errors.Is(e.error, target)
}

func (e *Err) Unwrap() error {
	return e.error
}

func (e *Err) As(err any) bool {
	o, ok := err.(*Err)
	if ok {
		*o = *e
	}

	return ok
}
