package handlers

import (
	"fmt"
	"sync"

	"github.com/SscSPs/mma_exchange/internal/core/domain"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerValidatorsOnce sync.Once

// RegisterValidators adds the custom binding tags used by the request DTOs to gin's validator.
func RegisterValidators() error {
	var err error
	registerValidatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			err = fmt.Errorf("unexpected binding validator engine %T", binding.Validator.Engine())
			return
		}
		err = v.RegisterValidation("currency", validateCurrency)
	})
	return err
}

// validateCurrency accepts any supported currency code, case-insensitively.
func validateCurrency(fl validator.FieldLevel) bool {
	_, err := domain.ParseCurrency(fl.Field().String())
	return err == nil
}
