package models

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvitationAttributeTags(t *testing.T) {
	item, err := attributevalue.MarshalMap(Invitation{
		Code:    "welcome",
		Used:    true,
		UsedBy:  "alice",
		UsedAt:  123,
		Created: 100,
	})
	require.NoError(t, err)

	// the validator's used-code check depends on these tags resolving
	var decoded Invitation
	require.NoError(t, attributevalue.UnmarshalMap(item, &decoded))
	assert.True(t, decoded.Used)
	assert.Equal(t, "alice", decoded.UsedBy)
}
