package config

import (
	"errors"
	"fmt"
	"path"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate checks the configuration using struct tags plus the rules that
// cannot be expressed as tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	s := cfg.Storage
	if (s.S3AccessKeyID == "") != (s.S3SecretAccessKey == "") {
		return fmt.Errorf("storage: s3_access_key_id and s3_secret_access_key must be set together")
	}
	for i, pattern := range cfg.Indexer.Ignore {
		if _, err := path.Match(pattern, ""); err != nil {
			return fmt.Errorf("indexer.ignore[%d]: invalid pattern %q: %w", i, pattern, err)
		}
	}
	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
			e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
