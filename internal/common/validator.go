package common

import (
	"sync"

	"github.com/go-playground/validator"
)

// GenericEchoValidator validates bound request bodies by their `validate` tags.
// Failures are returned as input errors so handlers can render them like any
// other caller mistake.
type GenericEchoValidator struct {
	Validator *validator.Validate
	once      sync.Once
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	gv.once.Do(func() {
		if gv.Validator == nil {
			gv.Validator = validator.New()
		}
	})
	if err := gv.Validator.Struct(i); err != nil {
		return NewInputError("received invalid request body: %v", err)
	}
	return nil
}
