package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestUniqueViolation(t *testing.T) {
	err := fmt.Errorf("failed to insert job: %w", &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "ani_job_name_key",
	})

	name, ok := UniqueViolation(err)
	assert.True(t, ok)
	assert.Equal(t, "ani_job_name_key", name)
}

func TestUniqueViolation_OtherErrors(t *testing.T) {
	_, ok := UniqueViolation(&pgconn.PgError{Code: "23503"})
	assert.False(t, ok)

	_, ok = UniqueViolation(errors.New("connection reset"))
	assert.False(t, ok)

	_, ok = UniqueViolation(nil)
	assert.False(t, ok)
}
