package optvalidate

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateStruct runs go-playground/validator struct-tag validation over v
// and reformats the first failing field into a single readable error.
// Options.Validate calls this before running its own cross-field checks.
func ValidateStruct(v any) error {
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// CrossFieldChecks validates the Options invariants that struct tags alone
// can't express: unordered mode requires UniqueKeys=false (dedup requires
// ordered mode, per the directory writer's Open Question resolution), and
// fixed-size mode requires both KeySize and ValueSize to be declared.
func CrossFieldChecks(unordered, uniqueKeys, fixedKV bool, keySize, valueSize int) error {
	cv := NewConfigValidator("Options")

	cv.Custom("Unordered", func() error {
		if unordered && uniqueKeys {
			return fmt.Errorf("unordered=true requires unique_keys=false; dedup requires ordered mode")
		}
		return nil
	})

	cv.When(fixedKV, func(cv *ConfigValidator) {
		cv.Positive("KeySize", keySize)
		cv.Positive("ValueSize", valueSize)
	})

	return cv.Validate()
}

func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	for _, e := range validationErrs {
		field := e.Field()
		tag := e.Tag()
		param := e.Param()

		switch tag {
		case "required":
			return fmt.Errorf("%s: field is required", field)
		case "min", "gte":
			return fmt.Errorf("%s: must be at least %s", field, param)
		case "max", "lte":
			return fmt.Errorf("%s: must not exceed %s", field, param)
		case "oneof":
			return fmt.Errorf("%s: must be one of [%s]", field, param)
		default:
			return fmt.Errorf("%s: validation failed (%s)", field, tag)
		}
	}

	return err
}
