package sqlutil

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestInt4RoundTrip(t *testing.T) {
	assert.Nil(t, FromInt4(ToInt4(nil)))

	v := 7
	got := FromInt4(ToInt4(&v))
	if assert.NotNil(t, got) {
		assert.Equal(t, 7, *got)
	}
}

func TestNullUUIDRoundTrip(t *testing.T) {
	assert.Nil(t, FromNullUUID(ToNullUUID(nil)))

	id := uuid.New()
	got := FromNullUUID(ToNullUUID(&id))
	if assert.NotNil(t, got) {
		assert.Equal(t, id, *got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert: %w", &pgconn.PgError{Code: UniqueViolation, ConstraintName: "games_pkey"})

	assert.True(t, IsUniqueViolation(err, ""))
	assert.True(t, IsUniqueViolation(err, "games_pkey"))
	assert.False(t, IsUniqueViolation(err, "game_players_seat_key"))
	assert.False(t, IsUniqueViolation(errors.New("boom"), ""))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}, ""))
}
