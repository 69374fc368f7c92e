package topics

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrDuplicateTopic is returned when a definition name is already registered.
	ErrDuplicateTopic = errors.New("topic already registered")
	// ErrInvalidDefinition is returned when a TopicConfig fails validation.
	ErrInvalidDefinition = errors.New("invalid topic definition")
)

// Names are hierarchical, lowercase and dot separated: broker.discovery, motor.command.
var topicNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*)*$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("topicname", func(fl validator.FieldLevel) bool {
		return topicNameRegex.MatchString(fl.Field().String())
	})
	return v
}

// TopicConfig holds configuration for defining a topic.
type TopicConfig struct {
	Name        string         `validate:"required,topicname"`
	Description string         `validate:"required"`
	Topics      map[string]any `validate:"required,min=1"`
	Response    map[string]any `validate:"omitempty,min=1"`
}

// Define validates cfg and builds a Definition from it.
func Define(cfg TopicConfig) (*Definition, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidDefinition, cfg.Name, err)
	}

	msg, err := From(cfg.Topics)
	if err != nil {
		return nil, fmt.Errorf("%w %q: topics: %v", ErrInvalidDefinition, cfg.Name, err)
	}

	def := &Definition{
		name:        cfg.Name,
		description: cfg.Description,
		topics:      msg,
	}

	if cfg.Response != nil {
		resp, err := From(cfg.Response)
		if err != nil {
			return nil, fmt.Errorf("%w %q: response: %v", ErrInvalidDefinition, cfg.Name, err)
		}
		def.response = &resp
	}

	return def, nil
}

// MustDefine is like Define but panics on invalid configuration.
func MustDefine(cfg TopicConfig) *Definition {
	def, err := Define(cfg)
	if err != nil {
		panic(err)
	}
	return def
}
