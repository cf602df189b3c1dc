package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/healthdesk/clinic-api/internal/email"
)

type patientEmailResolver struct {
	BaseRepository
}

// NewPatientEmailResolver resolves notification recipients to the
// address stored on the patient record.
func NewPatientEmailResolver(base BaseRepository) email.AddressResolver {
	return &patientEmailResolver{base}
}

func (r *patientEmailResolver) EmailFor(ctx context.Context, recipientID uuid.UUID) (string, error) {
	var address string
	err := r.db.GetContext(ctx, &address, `SELECT email FROM patients WHERE id = $1`, recipientID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("patient %s not found", recipientID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve patient email: %w", err)
	}
	return address, nil
}
