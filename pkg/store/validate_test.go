package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"contract-mesh/pkg/errs"
	"contract-mesh/pkg/model"
)

func TestValidatePayload(t *testing.T) {
	tests := []struct {
		name string
		in   model.Payload
		ok   bool
	}{
		{"valid", model.NewPayload("c", model.StateCompleted, t0), true},
		{"extra fields allowed", model.Payload{"stateName": "failed", "timestamp": "2024-01-01T00:00:00Z", "balance": 5.0}, true},
		{"nil", nil, false},
		{"missing stateName", model.Payload{"timestamp": "2024-01-01T00:00:00Z"}, false},
		{"unknown stateName", model.Payload{"stateName": "paused", "timestamp": "2024-01-01T00:00:00Z"}, false},
		{"stateName not a string", model.Payload{"stateName": 3, "timestamp": "2024-01-01T00:00:00Z"}, false},
		{"missing timestamp", model.Payload{"stateName": "active"}, false},
		{"bad timestamp", model.Payload{"stateName": "active", "timestamp": "tuesday"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePayload(tt.in)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errs.IsValidation(err))
		})
	}
}

func TestValidationErrorListsEveryProblem(t *testing.T) {
	err := ValidatePayload(model.Payload{})
	var verr *errs.ValidationError
	if assert.ErrorAs(t, err, &verr) {
		assert.Len(t, verr.Errs, 2)
	}
}
