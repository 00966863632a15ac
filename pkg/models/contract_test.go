package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContractType_LegacySnapshotFormat(t *testing.T) {
	// 历史 contracts.json 中的写法
	raw := `{"a":{"type":"MaybeERC20"},"b":{"type":{"ERC721":{"metadata":true,"enumerable":false}}},"c":{"type":"UnknownERC165"},"d":{"type":"Unknown"}}`

	var parsed map[string]struct {
		Type ContractType `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &parsed))

	assert.Equal(t, TypeMaybeERC20, parsed["a"].Type)
	assert.Equal(t, ERC721Type(true, false), parsed["b"].Type)
	assert.Equal(t, TypeUnknownERC165, parsed["c"].Type)
	assert.Equal(t, TypeUnknown, parsed["d"].Type)

	out, err := json.Marshal(parsed["b"].Type)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ERC721":{"metadata":true,"enumerable":false}}`, string(out))
}

func TestContractType_RejectsUnknownVariant(t *testing.T) {
	var ct ContractType
	assert.Error(t, json.Unmarshal([]byte(`"ERC1155"`), &ct))
	assert.Error(t, json.Unmarshal([]byte(`{"ERC1155":{}}`), &ct))
	assert.Error(t, json.Unmarshal([]byte(`42`), &ct))
}

func TestContractType_Helpers(t *testing.T) {
	assert.True(t, ERC721Type(true, false).HasMetadata())
	assert.False(t, ERC721Type(false, true).HasMetadata())
	assert.False(t, TypeMaybeERC20.HasMetadata())
	assert.Equal(t, "ERC721{metadata:true,enumerable:true}", ERC721Type(true, true).String())
	assert.Equal(t, "MaybeERC20", TypeMaybeERC20.String())
}
