package correlation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestWithIDAndFromContext(t *testing.T) {
	ctx := WithID(context.Background(), "abc")
	assert.Equal(t, "abc", FromContext(ctx))
	assert.Equal(t, "", FromContext(context.Background()))
}

func TestEnsure(t *testing.T) {
	ctx := Ensure(context.Background())
	id := FromContext(ctx)
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("Ensure() generated %q, not a UUID: %v", id, err)
	}

	// An existing ID is kept.
	kept := Ensure(WithID(context.Background(), "given"))
	assert.Equal(t, "given", FromContext(kept))
}

func TestAttr(t *testing.T) {
	attr := Attr(WithID(context.Background(), "xyz"))
	assert.Equal(t, "correlation_id", attr.Key)
	assert.Equal(t, "xyz", attr.Value.String())
}
