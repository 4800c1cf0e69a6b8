package workflow

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/loanramp/mailflow/pkg/models"
)

// Validator checks workflow definitions on two levels: the raw JSON document
// against the schema, and the decoded model against struct tags, trigger
// config rules, and graph invariants.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	return &Validator{
		validate: validator.New(),
	}
}

// ValidateDocument checks a raw workflow JSON document against the schema.
// It catches shape problems (wrong types, missing fields, unknown node types)
// before DecodeNode ever runs.
func (v *Validator) ValidateDocument(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(workflowSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate workflow document: %w", err)
	}

	if result.Valid() {
		return nil
	}

	errs := make([]error, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, fmt.Errorf("%w: %s", models.ErrInvalidGraph, desc.String()))
	}

	return errors.Join(errs...)
}

// ValidateWorkflow checks a decoded workflow: struct tags, the trigger config
// for its trigger type, and the graph's structural invariants.
func (v *Validator) ValidateWorkflow(wf *models.Workflow) error {
	if err := v.validate.Struct(wf); err != nil {
		return fmt.Errorf("workflow %s failed validation: %w", wf.ID, err)
	}

	if err := wf.ValidateTriggerConfig(); err != nil {
		return err
	}

	return wf.Graph.Validate()
}
