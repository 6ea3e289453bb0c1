package tasktable

import (
	"testing"

	"github.com/mediavault/libcatalog/internal/mlerrors"
)

func TestIsAlreadyScheduled(t *testing.T) {
	err := mlerrors.NewConstraintError(mlerrors.ConstraintUnique, "tasks", nil)
	if !IsAlreadyScheduled(err) {
		t.Fatal("expected unique constraint to be recognised as already-scheduled")
	}

	fkErr := mlerrors.NewConstraintError(mlerrors.ConstraintForeignKey, "tasks", nil)
	if IsAlreadyScheduled(fkErr) {
		t.Fatal("a foreign key violation is not an already-scheduled duplicate")
	}
}

func TestMaxRetriesThreshold(t *testing.T) {
	if MaxRetries != 3 {
		t.Fatalf("spec fixes the retry threshold at 3, got %d", MaxRetries)
	}
}
