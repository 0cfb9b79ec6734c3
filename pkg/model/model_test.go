package model

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexibleTags_Unmarshal(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  FlexibleTags
	}{
		{"array", `["a","b"]`, FlexibleTags{"a", "b"}},
		{"encoded array", `"[\"产品设计\", \"用户体验\"]"`, FlexibleTags{"产品设计", "用户体验"}},
		{"empty encoded array", `"[]"`, FlexibleTags{}},
		{"empty string", `""`, FlexibleTags{}},
		{"plain string", `"hiking"`, FlexibleTags{"hiking"}},
		{"null", `null`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got FlexibleTags
			require.NoError(t, json.Unmarshal([]byte(tt.input), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFlexibleTags_RejectsObject(t *testing.T) {
	var got FlexibleTags
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &got))
}

func TestFlexibleID_Unmarshal(t *testing.T) {
	var group MatchGroup
	require.NoError(t, json.Unmarshal([]byte(`{"groupId":1,"groupName":"g"}`), &group))
	assert.Equal(t, FlexibleID("1"), group.GroupID)

	require.NoError(t, json.Unmarshal([]byte(`{"groupId":"g-7"}`), &group))
	assert.Equal(t, FlexibleID("g-7"), group.GroupID)

	var id FlexibleID
	assert.Error(t, json.Unmarshal([]byte(`true`), &id))
}

func TestUser_DecodesAuthMeShape(t *testing.T) {
	raw := `{"id":"demo-user-001","account":"demo_user","name":"演示用户","age":28,"phone":null,
		"email":"demo@example.com","user_type":"user","tags":"[\"数据分析\"]","wechat_qr":null}`

	var u User
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	assert.Equal(t, "demo-user-001", u.ID)
	require.NotNil(t, u.Age)
	assert.Equal(t, 28, *u.Age)
	assert.Nil(t, u.Phone)
	assert.Equal(t, FlexibleTags{"数据分析"}, u.Tags)
}
